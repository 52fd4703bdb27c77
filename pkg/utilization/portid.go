package utilization

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/48ix/stats/pkg/influx"
	"github.com/48ix/stats/pkg/statserr"
)

// PortID identifies a participant port as location.participantId.portNumber.
type PortID struct {
	Location      string
	ParticipantID int
	PortNumber    int
}

// ParsePortID parses s into its three parts. Both numeric parts must be base-10
// integers written without signs or leading zeros, so the parsed id always
// renders back to s and matches the backend tag exactly.
func ParsePortID(s string) (PortID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return PortID{}, statserr.InvalidInput("port id %q must have the form location.participant.port", s)
	}
	location := parts[0]
	if location == "" || influx.CleanKeyName(location) != location {
		return PortID{}, statserr.InvalidInput("port id %q has an invalid location", s)
	}
	participantID, err := strconv.Atoi(parts[1])
	if err != nil {
		return PortID{}, statserr.InvalidInput("port id %q has a non-numeric participant id", s)
	}
	portNumber, err := strconv.Atoi(parts[2])
	if err != nil {
		return PortID{}, statserr.InvalidInput("port id %q has a non-numeric port number", s)
	}
	p := PortID{Location: location, ParticipantID: participantID, PortNumber: portNumber}
	if p.String() != s {
		return PortID{}, statserr.InvalidInput("port id %q is not in canonical form, use %q", s, p.String())
	}
	return p, nil
}

func (p PortID) String() string {
	return fmt.Sprintf("%s.%d.%d", p.Location, p.ParticipantID, p.PortNumber)
}
