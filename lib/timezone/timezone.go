package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/Santiago")
	if err != nil {
		panic(err)
	}
}

// the box operates on Chilean local time while our servers may not,
// which skews day-boundary math based on <time.Time>.Year()/Month()/Day()
func Now() time.Time {
	return time.Now().In(Location)
}
