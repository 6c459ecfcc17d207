package payments

import (
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"gorm.io/gorm"
)

// RefundConsultation marks every completed payment of a consultation as
// refunded and returns the refunded total. It must run inside the caller's
// transaction.
func RefundConsultation(tx *gorm.DB, consultationID uint, now time.Time) (float64, error) {
	var completed []models.Payment
	if err := tx.Where("consultation_id = ? AND status = ?", consultationID, models.PaymentCompleted).
		Find(&completed).Error; err != nil {
		return 0, err
	}
	if len(completed) == 0 {
		return 0, nil
	}

	total := 0.0
	ids := make([]uint, len(completed))
	for i, p := range completed {
		total += p.Amount
		ids[i] = p.ID
	}

	refundedAt := now.UTC()
	if err := tx.Model(&models.Payment{}).Where("id IN ?", ids).Updates(map[string]interface{}{
		"status":      models.PaymentRefunded,
		"refunded_at": refundedAt,
	}).Error; err != nil {
		return 0, err
	}
	return total, nil
}
