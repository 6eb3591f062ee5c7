package timeutil

import "time"

var minskLocation = loadLocation()

func loadLocation() *time.Location {
	loc, err := time.LoadLocation("Europe/Minsk")
	if err != nil {
		return time.FixedZone("Europe/Minsk", 3*60*60)
	}
	return loc
}

// Now returns the current time in Europe/Minsk timezone.
func Now() time.Time {
	return time.Now().In(minskLocation)
}

// Local converts provided time to Europe/Minsk timezone.
func Local(t time.Time) time.Time {
	return t.In(minskLocation)
}

// Format renders t the way chat messages show timestamps.
func Format(t time.Time) string {
	return Local(t).Format("02.01.2006 15:04")
}
