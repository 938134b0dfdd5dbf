package main

import (
	"github.com/imovelink/broker-contacts/internal/store"
)

func initStore() (store.Store, error) {
	dsn := cfg.Store.Path
	if dsn == "" {
		dsn = "broker_contacts.db"
	}
	return store.NewSQLite(dsn)
}
