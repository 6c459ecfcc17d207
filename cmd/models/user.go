package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	RoleFarmer = "farmer"
	RoleExpert = "expert"
)

type User struct {
	Model
	FullName       string     `gorm:"column:full_name;size:255;not null" json:"full_name"`
	Email          string     `gorm:"column:email;size:255;not null;uniqueIndex" json:"email"`
	PasswordHash   string     `gorm:"column:password_hash;size:255;not null" json:"-"`
	Role           string     `gorm:"column:role;size:20;not null;index" json:"role"`
	Phone          string     `gorm:"column:phone;size:30" json:"phone"`
	FarmName       string     `gorm:"column:farm_name;size:255" json:"farm_name"`
	Location       string     `gorm:"column:location;size:255" json:"location"`
	FarmSize       string     `gorm:"column:farm_size;size:100" json:"farm_size"`
	PrimaryCrops   StringList `gorm:"column:primary_crops" json:"primary_crops"`
	ProfilePicture string     `gorm:"column:profile_picture;size:500" json:"profile_picture"`

	ExpertProfile *ExpertProfile `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"expert_profile,omitempty"`
}

func (u *User) IsExpert() bool {
	return u.Role == RoleExpert
}

// NormalizeRole maps the labels used by the web client ("Client", "Farmer",
// "Expert") onto the stored roles. It returns "" for anything else.
func NormalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "farmer", "client":
		return RoleFarmer
	case "expert":
		return RoleExpert
	default:
		return ""
	}
}

type ExpertProfile struct {
	Model
	UserID          uint       `gorm:"column:user_id;not null;uniqueIndex" json:"user_id"`
	Specialty       string     `gorm:"column:specialty;size:255" json:"specialty"`
	Specialties     StringList `gorm:"column:specialties" json:"specialties"`
	Bio             string     `gorm:"column:bio;type:text" json:"bio"`
	ExperienceYears int        `gorm:"column:experience_years;default:0" json:"experience_years"`
	HourlyRate      float64    `gorm:"column:hourly_rate;default:0" json:"hourly_rate"`
	Verified        bool       `gorm:"column:verified;default:false" json:"verified"`
	AverageRating   float64    `gorm:"column:average_rating;default:0" json:"average_rating"`
	TotalRatings    int        `gorm:"column:total_ratings;default:0" json:"total_ratings"`
}

func (ExpertProfile) TableName() string {
	return "experts"
}

// Review is a farmer's rating of a completed consultation.
type Review struct {
	Model
	ConsultationID uint   `gorm:"column:consultation_id;not null;uniqueIndex" json:"consultation_id"`
	ClientID       uint   `gorm:"column:client_id;not null;index" json:"client_id"`
	ExpertID       uint   `gorm:"column:expert_id;not null;index" json:"expert_id"`
	Rating         int    `gorm:"column:rating;not null" json:"rating"`
	Comment        string `gorm:"column:comment;type:text" json:"comment"`
	Client         *User  `gorm:"foreignKey:ClientID" json:"-"`
}

// RecomputeExpertRating refreshes the aggregate rating columns of an expert
// profile from the reviews table.
func RecomputeExpertRating(tx *gorm.DB, expertUserID uint) error {
	var agg struct {
		Total   int64
		Average float64
	}
	if err := tx.Model(&Review{}).
		Select("COUNT(*) AS total, COALESCE(AVG(rating), 0) AS average").
		Where("expert_id = ?", expertUserID).
		Scan(&agg).Error; err != nil {
		return err
	}
	return tx.Model(&ExpertProfile{}).Where("user_id = ?", expertUserID).Updates(map[string]interface{}{
		"average_rating": agg.Average,
		"total_ratings":  agg.Total,
		"updated_at":     time.Now().UTC(),
	}).Error
}
