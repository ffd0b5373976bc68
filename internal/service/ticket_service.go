package service

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// TicketService encodes scannable entry tickets. The payload carries only
// the two ids so the code stays small and robust to scan.
type TicketService struct {
	logger *zap.Logger
}

// NewTicketService constructs a TicketService.
func NewTicketService(logger *zap.Logger) *TicketService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{logger: logger}
}

// Payload renders the ticket identifier string for a registration.
func (s *TicketService) Payload(eventID, studentID string) string {
	return fmt.Sprintf("event_id:%s|student_id:%s", eventID, studentID)
}

// Issue encodes the ticket payload into a PNG data URL. Encoding failures
// are logged and yield an empty code: a registration is valid without its
// ticket image.
func (s *TicketService) Issue(eventID, studentID string) string {
	payload := s.Payload(eventID, studentID)
	png, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		s.logger.Warn("ticket encode failed",
			zap.String("event_id", eventID),
			zap.String("student_id", studentID),
			zap.Error(err),
		)
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
