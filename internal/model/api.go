package model

// ExposureRequest announces a raw file, either as root/night/filename or
// as a full path.
type ExposureRequest struct {
	Root     string `json:"root"`
	Night    string `json:"night"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// PfsConfigRequest declares the configuration file of a visit
type PfsConfigRequest struct {
	Path string `json:"path"`
}

// VisitGroupRequest reduces several visits in one run. Visits is "a..b" or "a^b^c".
type VisitGroupRequest struct {
	SequenceID int    `json:"sequence_id" binding:"required"`
	Visits     string `json:"visits" binding:"required"`
}

// ReduceRequest ad-hoc reduction, Where wins over Visits
type ReduceRequest struct {
	Where    string `json:"where"`
	Visits   string `json:"visits"`
	Pipeline string `json:"pipeline"`
}

// ReduceResponse identifies the submitted work item
type ReduceResponse struct {
	ItemID string `json:"item_id"`
	Where  string `json:"where"`
}

// DotRoachStartRequest starts a convergence run
type DotRoachStartRequest struct {
	Root       string `json:"root" binding:"required"`
	MaskFile   string `json:"mask_file" binding:"required"`
	KeepMoving bool   `json:"keep_moving"`
}

// VisitStatusResponse latest and historical status lines of a visit
type VisitStatusResponse struct {
	Visit   int          `json:"visit"`
	Latest  []StatusLine `json:"latest"`
	History []StatusLine `json:"history"`
}
