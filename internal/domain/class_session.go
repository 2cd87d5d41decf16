package domain

// ClassKind selects the studio schedule: classes in the hall or over Zoom.
type ClassKind string

const (
	ClassOffline ClassKind = "offline"
	ClassOnline  ClassKind = "online"
)

func (k ClassKind) Valid() bool {
	return k == ClassOffline || k == ClassOnline
}

// ClassSession is a bookable slot. The synchronizer only reads it.
type ClassSession struct {
	ID          string `json:"id" validate:"required"`
	DateStr     string `json:"dateStr" validate:"required"` // YYYY-MM-DD
	Time        string `json:"time" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Instructor  string `json:"instructor"`
	Duration    string `json:"duration"`
	SpotsTotal  int    `json:"spotsTotal" validate:"gte=0"`
	SpotsBooked int    `json:"spotsBooked" validate:"gte=0"`
	Location    string `json:"location"`
	Intensity   int    `json:"intensity" validate:"omitempty,min=1,max=3"`
	Price       int    `json:"price" validate:"gte=0"`
	IsOnline    bool   `json:"isOnline"`
}

// IsFull reports whether the schedule already shows every spot taken.
func (c ClassSession) IsFull() bool {
	return c.SpotsTotal > 0 && c.SpotsBooked >= c.SpotsTotal
}
