package main

import (
	"time"

	"memberpass/internal/card/models"
	memberstore "memberpass/internal/card/store/member"
)

// seedDevMembers loads a few members into the in-memory store so a dev
// server can issue and verify cards without a database.
func seedDevMembers(s *memberstore.InMemoryStore) {
	nextYear := models.DateOf(time.Now().AddDate(1, 0, 0))
	s.Put(models.Member{
		ID:               "M-0001",
		MembershipNumber: "MEM000123",
		FullName:         "Amina Diallo",
		Region:           "North",
		District:         "Central",
		Branch:           "Main",
		MembershipExpiry: nextYear,
	})
	s.Put(models.Member{
		ID:               "M-0002",
		MembershipNumber: "MEM000124",
		FullName:         "Tomas Novak",
		Region:           "South",
		MembershipExpiry: nextYear,
	})
	s.Put(models.Member{
		ID:               "M-0003",
		MembershipNumber: "MEM000125",
		FullName:         "Lapsed Member",
		MembershipExpiry: models.DateOf(time.Now().AddDate(0, -1, 0)),
	})
}
