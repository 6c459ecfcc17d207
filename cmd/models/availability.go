package models

// Availability is a window on a given date in which an expert accepts
// bookings. Date is YYYY-MM-DD, times are zero-padded HH:MM.
type Availability struct {
	Model
	ExpertID  uint   `gorm:"column:expert_id;not null;index" json:"expert_id"`
	Date      string `gorm:"column:date;size:10;not null;index" json:"date"`
	StartTime string `gorm:"column:start_time;size:5;not null" json:"start_time"`
	EndTime   string `gorm:"column:end_time;size:5;not null" json:"end_time"`
	Note      string `gorm:"column:note;type:text" json:"note"`
}

func (Availability) TableName() string {
	return "availabilities"
}
