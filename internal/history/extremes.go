package history

import "time"

// Extremes are the highest and lowest readings seen on one calendar day.
// Nil means no reading of that kind arrived yet today.
type Extremes struct {
	Day          string
	HighTemp     *float64
	LowTemp      *float64
	HighHumidity *float64
	LowHumidity  *float64
}

// Observe folds one reading into e, starting over when at falls on a new day.
func (e *Extremes) Observe(temp, humidity *float64, at time.Time) {
	day := at.Format(time.DateOnly)
	if e.Day != day {
		*e = Extremes{Day: day}
	}
	if temp != nil {
		e.HighTemp = higher(e.HighTemp, *temp)
		e.LowTemp = lower(e.LowTemp, *temp)
	}
	if humidity != nil {
		e.HighHumidity = higher(e.HighHumidity, *humidity)
		e.LowHumidity = lower(e.LowHumidity, *humidity)
	}
}

func higher(cur *float64, v float64) *float64 {
	if cur == nil || v > *cur {
		return &v
	}
	return cur
}

func lower(cur *float64, v float64) *float64 {
	if cur == nil || v < *cur {
		return &v
	}
	return cur
}
