package notify

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/david/deal-pulse/internal/models"
)

// Fingerprint identifies "the same alert" across scans: one subject (a deal
// id, a metric name) and one notification type.
func Fingerprint(subject string, t models.NotificationType) string {
	sum := sha256.Sum256([]byte(subject + ":" + string(t)))
	return hex.EncodeToString(sum[:16])
}
