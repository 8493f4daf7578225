package models

// AllTables returns a slice of all tables in the database.
func AllTables() []interface{} {
	return []interface{}{
		&User{}, &KeyPair{}, &FederatedServer{},
		&Follow{},
		&Author{}, &Work{}, &Edition{},
		&Status{}, &StatusAttachment{}, &Like{},
		&Shelf{}, &ShelfItem{},
		&Delivery{}, &InboundActivity{},
	}
}
