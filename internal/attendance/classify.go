package attendance

// Classify derives the state of an employee check-in made at t.
func Classify(t TimeOfDay, s EmployeeSession) State {
	if s.AlphaThreshold != nil && t > *s.AlphaThreshold {
		return StateAlpha
	}
	if t > s.LateThreshold {
		return StateLate
	}
	return StatePresent
}
