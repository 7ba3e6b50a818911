package relica

import (
	"database/sql"
)

// Repositories holds all repository implementations.
type Repositories struct {
	Events        *EventRepository
	Subscriptions *SubscriptionRepository
	Deliveries    *DeliveryRepository
	DLQ           *DLQRepository
}

// NewRepositories creates all repository implementations using Relica.
//
// The db parameter should be an *sql.DB connected to MySQL, PostgreSQL, or SQLite,
// with the schema from hookrelay.Migrate applied.
// The driverName should be "mysql", "postgres", or "sqlite3".
func NewRepositories(db *sql.DB, driverName string) *Repositories {
	return &Repositories{
		Events:        NewEventRepository(db, driverName),
		Subscriptions: NewSubscriptionRepository(db, driverName),
		Deliveries:    NewDeliveryRepository(db, driverName),
		DLQ:           NewDLQRepository(db, driverName),
	}
}
