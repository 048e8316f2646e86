package types

const (
	ExitNormal     int = 0
	ExitErrored    int = 1
	ExitBadConfig  int = 2
	ExitNotFound   int = 3
	ExitNoProgress int = 4
)
