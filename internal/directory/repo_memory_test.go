package directory

import "testing"

func seedEntries() []Entry {
	return []Entry{
		{ID: "1", DisplayName: "Sarah Connor", Role: RoleAdmin, PhoneNumber: "+61416000001", Status: StatusAvailable},
		{ID: "2", DisplayName: "John Smith", Role: RoleStaff, PhoneNumber: "+61416000002", Status: StatusBusy},
		{ID: "4", DisplayName: "Front Desk", Role: RoleStaff, PhoneNumber: "100", Status: StatusAvailable},
	}
}

func TestResolveNumber_Exact(t *testing.T) {
	r := NewRepo(seedEntries())
	e, ok := r.ResolveNumber("+61416000002")
	if !ok || e.ID != "2" {
		t.Fatalf("expected entry 2, got %+v ok=%v", e, ok)
	}
}

func TestResolveNumber_ExactShortCode(t *testing.T) {
	r := NewRepo(seedEntries())
	e, ok := r.ResolveNumber("100")
	if !ok || e.ID != "4" {
		t.Fatalf("expected front desk, got %+v ok=%v", e, ok)
	}
}

func TestResolveNumber_Suffix(t *testing.T) {
	r := NewRepo(seedEntries())
	e, ok := r.ResolveNumber("0416000001")
	if !ok || e.ID != "1" {
		t.Fatalf("expected suffix match on entry 1, got %+v ok=%v", e, ok)
	}
}

func TestResolveNumber_ShortSuffixDoesNotFalseMatch(t *testing.T) {
	r := NewRepo(seedEntries())
	// "001" is a suffix of +61416000001 but too short to resolve.
	if _, ok := r.ResolveNumber("001"); ok {
		t.Fatalf("expected no match for 3-digit suffix")
	}
}

func TestResolveNumber_Unknown(t *testing.T) {
	r := NewRepo(seedEntries())
	if _, ok := r.ResolveNumber("+15551234567"); ok {
		t.Fatalf("expected no match for untracked number")
	}
}

func TestSetPresence_UpdatesStatusAndLocation(t *testing.T) {
	r := NewRepo(seedEntries())
	loc := &Location{Lat: -27.9758, Lng: 153.4038}
	if !r.SetPresence("2", StatusOffline, loc) {
		t.Fatalf("expected update to succeed")
	}
	e, _ := r.Get("2")
	if e.Status != StatusOffline {
		t.Fatalf("expected offline, got %q", e.Status)
	}
	if e.Location == nil || e.Location.Lat != loc.Lat {
		t.Fatalf("expected location update, got %+v", e.Location)
	}
	if e.LastSeen.IsZero() {
		t.Fatalf("expected last_seen to be stamped")
	}
}

func TestSetPresence_UnknownID(t *testing.T) {
	r := NewRepo(seedEntries())
	if r.SetPresence("nope", StatusAvailable, nil) {
		t.Fatalf("expected update of unknown id to fail")
	}
}

func TestList_ReturnsCopy(t *testing.T) {
	r := NewRepo(seedEntries())
	l := r.List()
	l[0].Status = StatusOffline
	e, _ := r.Get("1")
	if e.Status != StatusAvailable {
		t.Fatalf("mutating the listed copy must not affect the repo")
	}
}
