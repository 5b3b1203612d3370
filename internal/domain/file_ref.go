package domain

type FileRef struct {
	Index          int    `json:"index"`
	Path           string `json:"path"`
	Length         int64  `json:"length"`
	BytesCompleted int64  `json:"bytesCompleted"`
}

// PrimaryFile picks the largest file by length. Ties resolve to the lowest
// index so repeated calls over unchanged metadata agree.
func PrimaryFile(files []FileRef) (FileRef, bool) {
	if len(files) == 0 {
		return FileRef{}, false
	}
	best := files[0]
	for _, f := range files[1:] {
		if f.Length > best.Length {
			best = f
		}
	}
	return best, true
}
