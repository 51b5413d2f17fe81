package db

type Lookup struct {
	ID             int64
	Trackingnumber string
	Carrier        string
	Source         string
	Status         string
	Liveeta        string
	Summary        string
	Createdat      int64
}
