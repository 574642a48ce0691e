package aggregator

// TyreAge computes the current tyre's age in laps (spec §4.5). If
// SignalR reports TotalLaps directly, that value is authoritative; else
// it's derived as max(0, currentLap-stintLapStart) + tyreAgeAtStart.
func TyreAge(stint StintInfo, currentLap int) int {
	if stint.TotalLaps != nil {
		return *stint.TotalLaps
	}
	delta := currentLap - stint.LapStart
	if delta < 0 {
		delta = 0
	}
	return delta + stint.TyreAgeAtStart
}
