package dispensing

import "slices"

var priorityRank = map[QueuePriority]int{
	PriorityEmergency: 0,
	PriorityUrgent:    1,
	PriorityNormal:    2,
}

func rank(p QueuePriority) int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// SortQueue orders entries Emergency, Urgent, Normal, then oldest
// prescription first.
func SortQueue(entries []QueueEntry) {
	slices.SortStableFunc(entries, func(a, b QueueEntry) int {
		if d := rank(a.Priority) - rank(b.Priority); d != 0 {
			return d
		}
		return a.PrescriptionDate.Compare(b.PrescriptionDate)
	})
}

// QueueFilter narrows the queue listing. Empty fields match everything.
type QueueFilter struct {
	Status   QueueStatus
	Priority QueuePriority
}

func (f QueueFilter) validate() error {
	if f.Status != "" && !validQueueStatuses[f.Status] {
		return validationErr("status", "invalid queue status: %s", f.Status)
	}
	if f.Priority != "" {
		if _, ok := priorityRank[f.Priority]; !ok {
			return validationErr("priority", "invalid queue priority: %s", f.Priority)
		}
	}
	return nil
}

// QueueStatistics summarises the counter for the dashboard. AverageWaitTime
// is in minutes.
type QueueStatistics struct {
	Waiting         int     `json:"waiting"`
	InProgress      int     `json:"in_progress"`
	AverageWaitTime float64 `json:"average_wait_time"`
	UrgentCount     int     `json:"urgent_count"`
	EmergencyCount  int     `json:"emergency_count"`
}

// holdTransitions lists where a queue entry may be parked from and where
// it is released to.
var holdTransitions = map[QueueStatus][]QueueStatus{
	QueueOnHold:  {QueueWaiting, QueueInProgress},
	QueueWaiting: {QueueOnHold},
}

// canMoveTo reports whether an entry in status from may be moved to to by
// a hold or a resume.
func canMoveTo(from, to QueueStatus) bool {
	return slices.Contains(holdTransitions[to], from)
}
