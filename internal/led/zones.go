package led

// Zone identifies a logical group of LEDs, usually a key position.
type Zone string

// DefaultZones is the zone layout of the reference keyboard: the escape key
// followed by the function row.
var DefaultZones = []Zone{
	"Escape",
	"F1", "F2", "F3", "F4", "F5", "F6",
	"F7", "F8", "F9", "F10", "F11", "F12",
}

// ZoneColors maps zones to the color they should display. Zones that are
// absent stay off.
type ZoneColors map[Zone]RGBColor

// Assignment maps each zone to the ascending LED indices it controls.
type Assignment map[Zone][]int

// AssignZones spreads numLEDs LEDs across zones from left to right. Each zone
// gets a contiguous range of LEDs. When the LEDs do not divide evenly, the
// remainder is split between both ends of the zone list, so outer zones get
// the wider coverage.
//
// If there are fewer LEDs than zones, the first numLEDs zones get one LED each
// and the rest get none. Every zone is present in the returned assignment.
func AssignZones(numLEDs int, zones []Zone) Assignment {
	assignment := make(Assignment, len(zones))
	for _, zone := range zones {
		assignment[zone] = nil
	}

	if numLEDs <= 0 || len(zones) == 0 {
		return assignment
	}

	if numLEDs < len(zones) {
		for i := 0; i < numLEDs; i++ {
			assignment[zones[i]] = []int{i}
		}
		return assignment
	}

	perZone := numLEDs / len(zones)
	remainder := numLEDs % len(zones)
	leftExtra := remainder / 2
	rightExtra := remainder - leftExtra

	var cursor int
	for i, zone := range zones {
		n := perZone
		if i < leftExtra || i >= len(zones)-rightExtra {
			n++
		}

		indices := make([]int, n)
		for j := range indices {
			indices[j] = cursor
			cursor++
		}
		assignment[zone] = indices
	}

	return assignment
}

// Paint writes the color of every zone in colors into leds. Zones that are not
// part of the assignment are skipped.
func (a Assignment) Paint(leds LEDs, colors ZoneColors) error {
	for zone, color := range colors {
		indices, ok := a[zone]
		if !ok {
			continue
		}
		if err := leds.SetIndices(indices, color); err != nil {
			return err
		}
	}
	return nil
}
