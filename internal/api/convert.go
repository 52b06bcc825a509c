package api

import (
	"time"

	"voicebox/internal/queue"
)

// FromQueueItem converts a stored item into its wire representation.
func FromQueueItem(item *queue.Item) Item {
	if item == nil {
		return Item{}
	}
	return Item{
		ID:            item.ID,
		Sender:        item.Sender,
		Subject:       item.Subject,
		Phone:         item.Phone,
		ReceivedAt:    formatTime(item.ReceivedAt),
		Status:        string(item.Status),
		FailureReason: string(item.FailureReason),
		ErrorMessage:  item.ErrorMessage,
		Transcript:    item.Transcript,
		ModelUsed:     item.ModelUsed,
		Duration:      item.Duration,
		Fields: Fields{
			FirstName:      item.Fields.FirstName,
			LastName:       item.Fields.LastName,
			RequestType:    item.Fields.RequestType,
			Medication:     item.Fields.Medication,
			Dosage:         item.Fields.Dosage,
			Specialty:      item.Fields.Specialty,
			ReferralReason: item.Fields.ReferralReason,
			Note:           item.Fields.Note,
			Birthdate:      item.Fields.Birthdate,
		},
		Rating:    item.Rating,
		CreatedAt: formatTime(item.CreatedAt),
		UpdatedAt: formatTime(item.UpdatedAt),
	}
}

// FromQueueItems converts a slice of stored items.
func FromQueueItems(items []*queue.Item) []Item {
	if len(items) == 0 {
		return nil
	}
	out := make([]Item, 0, len(items))
	for _, item := range items {
		out = append(out, FromQueueItem(item))
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
