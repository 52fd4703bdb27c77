package utilization

// PortUtilization is the per-port response. Series rows are [timestamp, bits/sec].
type PortUtilization struct {
	Ingress        [][]any `json:"ingress"`
	Egress         [][]any `json:"egress"`
	ParticipantID  int     `json:"participant_id"`
	Location       string  `json:"location"`
	PortID         string  `json:"port_id"`
	IngressAverage int64   `json:"ingress_average"`
	EgressAverage  int64   `json:"egress_average"`
}

// OverallUtilization is the IX-wide response.
type OverallUtilization struct {
	Ingress        [][]any `json:"ingress"`
	Egress         [][]any `json:"egress"`
	IngressAverage int64   `json:"ingress_average"`
	EgressAverage  int64   `json:"egress_average"`
	IngressPeak    int64   `json:"ingress_peak"`
}
