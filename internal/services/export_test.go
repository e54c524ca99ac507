package services

import "testing"

func TestExportRatingsLongCSV(t *testing.T) {
	rows := []RatingRow{
		{Respondent: "R01", Role: RolePeer, Quality: "Communication", Rating: 6, SubmittedAt: "2026-03-01T12:00:00Z"},
		{Respondent: "R01", Role: RolePeer, Quality: "Leadership", Rating: 5, SubmittedAt: "2026-03-01T12:00:00Z"},
		{Respondent: "R02", Role: RoleSupervisor, Quality: "Communication", Rating: 8, SubmittedAt: "2026-03-02T09:30:00Z"},
	}
	b, err := ExportRatingsLongCSV(rows)
	if err != nil {
		t.Fatalf("ExportRatingsLongCSV: %v", err)
	}
	want := "respondent,role,quality,rating,submitted_at\n" +
		"R01,peer,Communication,6,2026-03-01T12:00:00Z\n" +
		"R01,peer,Leadership,5,2026-03-01T12:00:00Z\n" +
		"R02,supervisor,Communication,8,2026-03-02T09:30:00Z\n"
	if string(b) != want {
		t.Fatalf("csv = %q, want %q", b, want)
	}
}

func TestExportRatingsLongCSVEmpty(t *testing.T) {
	b, err := ExportRatingsLongCSV(nil)
	if err != nil {
		t.Fatalf("ExportRatingsLongCSV: %v", err)
	}
	if string(b) != "respondent,role,quality,rating,submitted_at\n" {
		t.Fatalf("csv = %q, want header only", b)
	}
}

func TestExportRatingsWideCSV(t *testing.T) {
	qualities := []string{"Communication", "Leadership", "Teamwork"}
	inputs := map[string]map[string]int{
		"R02": {"Communication": 8},
		"R01": {"Communication": 6, "Leadership": 5},
	}
	b, err := ExportRatingsWideCSV(qualities, inputs)
	if err != nil {
		t.Fatalf("ExportRatingsWideCSV: %v", err)
	}
	want := "respondent,Communication,Leadership,Teamwork\n" +
		"R01,6,5,\n" +
		"R02,8,,\n"
	if string(b) != want {
		t.Fatalf("csv = %q, want %q", b, want)
	}
}
