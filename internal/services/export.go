package services

import (
	"bytes"
	"encoding/csv"
	"sort"
	"strconv"
)

// RatingRow is one rating in the long-format export. Respondent is an
// anonymous ordinal, never the request token or email.
type RatingRow struct {
	Respondent  string
	Role        Role
	Quality     string
	Rating      int
	SubmittedAt string // RFC3339
}

// ExportRatingsLongCSV renders rows into a long-format CSV.
func ExportRatingsLongCSV(rows []RatingRow) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"respondent", "role", "quality", "rating", "submitted_at"})
	for _, r := range rows {
		rec := []string{
			r.Respondent,
			string(r.Role),
			r.Quality,
			strconv.Itoa(r.Rating),
			r.SubmittedAt,
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ExportRatingsWideCSV renders one row per respondent with one column per
// quality. The column order follows the process qualities; missing cells
// stay empty rather than zero.
func ExportRatingsWideCSV(qualities []string, inputs map[string]map[string]int) ([]byte, error) {
	respondents := make([]string, 0, len(inputs))
	for r := range inputs {
		respondents = append(respondents, r)
	}
	sort.Strings(respondents)

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	header := append([]string{"respondent"}, qualities...)
	_ = w.Write(header)
	for _, resp := range respondents {
		row := make([]string, 0, 1+len(qualities))
		row = append(row, resp)
		for _, q := range qualities {
			if v, ok := inputs[resp][q]; ok {
				row = append(row, strconv.Itoa(v))
			} else {
				row = append(row, "")
			}
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
