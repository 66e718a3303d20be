package tree

// Fingerprint summarizes a set of duplicate groups. Two stores holding the
// same groups produce the same Root.
type Fingerprint struct {
	Root      string `json:"root"`
	Groups    int    `json:"groups"`
	Paths     int    `json:"paths"`
	Reclaim   int64  `json:"reclaimable"`
	TotalSize int64  `json:"total_size"`
}

// groupBlock is one merkle leaf: a duplicate group in canonical form.
type groupBlock []byte

func (b groupBlock) Serialize() ([]byte, error) {
	return b, nil
}
