package tui

type View int

const (
	ViewPeople View = iota
	ViewDetail
)

// Focus is the part of the people view that receives keys.
type Focus int

const (
	FocusQuery Focus = iota
	FocusList
)
