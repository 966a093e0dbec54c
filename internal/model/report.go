package model

import "time"

// RebalanceReport is what goes into a spreadsheet report.
type RebalanceReport struct {
	BasketName string
	Allocation Allocation
	Operations []RebalanceOperation
	CreatedAt  time.Time
}
