package appointment

// Pure helpers over appointment snapshots. Callers derive counts and filtered
// lists from these instead of caching them.

// Occupies reports whether a holds capacity in its slot.
func (a Appointment) Occupies() bool {
	return a.Status != StatusCancelled
}

// CountInSlot counts appointments that hold capacity in key.
func CountInSlot(appts []Appointment, key SlotKey) int {
	n := 0
	for _, a := range appts {
		if a.Occupies() && a.SlotKey() == key {
			n++
		}
	}
	return n
}

func FilterByStatus(appts []Appointment, statuses ...Status) []Appointment {
	var out []Appointment
	for _, a := range appts {
		if containsStatus(statuses, a.Status) {
			out = append(out, a)
		}
	}
	return out
}

func FilterByCitizen(appts []Appointment, citizenID string) []Appointment {
	var out []Appointment
	for _, a := range appts {
		if a.CitizenID == citizenID {
			out = append(out, a)
		}
	}
	return out
}

func CountByStatus(appts []Appointment) map[Status]int {
	out := make(map[Status]int)
	for _, a := range appts {
		out[a.Status]++
	}
	return out
}

// Without returns appts minus the appointment with the given id.
func Without(appts []Appointment, a Appointment) []Appointment {
	out := make([]Appointment, 0, len(appts))
	for _, x := range appts {
		if x.ID != a.ID {
			out = append(out, x)
		}
	}
	return out
}
