package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// WriteUsersJSON writes the user-centric report as indented JSON.
func WriteUsersJSON(w io.Writer, records []UserRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode user report: %w", err)
	}
	return nil
}

// questionCSVHeader is the column order of the question-centric CSV.
var questionCSVHeader = []string{
	"question_id", "title", "creation_date", "score", "view_count",
	"answer_count", "is_answered", "status", "tags", "web_url",
	"asker_id", "asker_name", "asker_is_sme", "asker_tenure_days",
	"accepted_answer_id", "accepted_answer_score",
	"accepted_answer_owner_id", "accepted_answer_owner_name",
	"accepted_answer_owner_is_sme",
}

// WriteQuestionsCSV writes the question-centric report as CSV.
func WriteQuestionsCSV(w io.Writer, records []QuestionRecord) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(questionCSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			strconv.FormatInt(rec.QuestionID, 10),
			rec.Title,
			rec.CreationDate.UTC().Format(time.RFC3339),
			strconv.Itoa(rec.Score),
			strconv.Itoa(rec.ViewCount),
			strconv.Itoa(rec.AnswerCount),
			strconv.FormatBool(rec.IsAnswered),
			rec.Status,
			strings.Join(rec.Tags, ";"),
			rec.WebURL,
			strconv.FormatInt(rec.AskerID, 10),
			rec.AskerName,
			strconv.FormatBool(rec.AskerIsSME),
			strconv.Itoa(rec.AskerTenureDays),
			strconv.FormatInt(rec.AcceptedAnswerID, 10),
			strconv.Itoa(rec.AcceptedAnswerScore),
			strconv.FormatInt(rec.AcceptedAnswerOwnerID, 10),
			rec.AcceptedAnswerOwnerName,
			strconv.FormatBool(rec.AcceptedAnswerOwnerIsSME),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row for question %d: %w", rec.QuestionID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
