package attempt

import (
	"bytes"
	"database/sql"
	"testing"
	"time"

	"ebslms/internal/question"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

func answeredRow(aq, q uuid.UUID, typ question.Type, points int) evaluableRow {
	return evaluableRow{
		AttemptQuestionID: aq,
		QuestionID:        q,
		MaxPoints:         points,
		Type:              typ,
		AnswerID:          uuid.NullUUID{UUID: uuid.New(), Valid: true},
	}
}

func TestGradeRowsGroupsMultiSelectAnswers(t *testing.T) {
	aqMulti, qMulti := uuid.New(), uuid.New()
	aqTF, qTF := uuid.New(), uuid.New()
	aqOpen, qOpen := uuid.New(), uuid.New()
	optA, optB := uuid.New(), uuid.New()

	a := answeredRow(aqMulti, qMulti, question.TypeMultiple, 4)
	a.MultiSelect = true
	a.OptionID = uuid.NullUUID{UUID: optA, Valid: true}
	a.OptionCorrect = sql.NullBool{Bool: true, Valid: true}
	b := a
	b.AnswerID = uuid.NullUUID{UUID: uuid.New(), Valid: true}
	b.OptionID = uuid.NullUUID{UUID: optB, Valid: true}

	tf := answeredRow(aqTF, qTF, question.TypeTrueFalse, 2)
	tf.TrueFalseAnswer = sql.NullBool{Bool: false, Valid: true}
	tf.BoolAnswer = sql.NullBool{Bool: true, Valid: true}

	// unanswered open question: the view emits one row with no respuesta
	open := evaluableRow{AttemptQuestionID: aqOpen, QuestionID: qOpen, MaxPoints: 4, Type: question.TypeOpen}

	g := gradeRows([]evaluableRow{a, tf, b, open}, map[uuid.UUID][]uuid.UUID{qMulti: {optA, optB}})

	if len(g.Answers) != 3 {
		t.Fatalf("expected 3 graded questions, got %d", len(g.Answers))
	}
	if g.Answers[0].QuestionID != qMulti || g.Answers[1].QuestionID != qTF || g.Answers[2].QuestionID != qOpen {
		t.Fatalf("questions out of order: %+v", g.Answers)
	}
	assertScoreResult(t, g.Answers[0].ScoreResult, "correct", true, 4, boolPtr(true))
	assertScoreResult(t, g.Answers[1].ScoreResult, "wrong", true, 0, boolPtr(false))
	assertScoreResult(t, g.Answers[2].ScoreResult, "unanswered", false, 0, nil)

	if g.Earned != 4 || g.Total != 10 || g.CorrectCount != 1 {
		t.Fatalf("unexpected totals: earned=%v total=%v correct=%d", g.Earned, g.Total, g.CorrectCount)
	}
	if pct := Percentage(g.Earned, g.Total); pct != 40 {
		t.Fatalf("expected 40%%, got %v", pct)
	}
}

func TestGradeRowsCarriesConfig(t *testing.T) {
	aq, q := uuid.New(), uuid.New()
	row := answeredRow(aq, q, question.TypeOpen, 3)
	row.ModelAnswer = sql.NullString{String: "Ciudad de  México", Valid: true}
	row.TextAnswer = sql.NullString{String: "ciudad de méxico", Valid: true}

	g := gradeRows([]evaluableRow{row}, nil)
	if len(g.Answers) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(g.Answers))
	}
	assertScoreResult(t, g.Answers[0].ScoreResult, "correct", true, 3, boolPtr(true))
	if g.Answers[0].MaxPoints != 3 {
		t.Fatalf("expected max points 3, got %v", g.Answers[0].MaxPoints)
	}
}

func TestGradeRowsEmpty(t *testing.T) {
	g := gradeRows(nil, nil)
	if len(g.Answers) != 0 || g.Total != 0 {
		t.Fatalf("expected empty grade, got %+v", g)
	}
	if Percentage(g.Earned, g.Total) != 0 {
		t.Fatal("expected 0% for an empty attempt")
	}
}

func TestTargetMatches(t *testing.T) {
	quizID, examID := uuid.New(), uuid.New()
	a := &Attempt{QuizID: &quizID}
	if !QuizTarget(quizID).matches(a) {
		t.Fatal("expected quiz target to match")
	}
	if QuizTarget(uuid.New()).matches(a) || ExamTarget(examID).matches(a) {
		t.Fatal("expected other targets not to match")
	}
	if (Target{}).Valid() || (Target{QuizID: &quizID, ExamID: &examID}).Valid() {
		t.Fatal("expected zero and double targets to be invalid")
	}
	if QuizTarget(quizID).column() != "quiz_id" || ExamTarget(examID).column() != "examen_final_id" {
		t.Fatal("unexpected target columns")
	}
}

func TestAttemptsWorkbook(t *testing.T) {
	quizID := uuid.New()
	score := 87.5
	result := ResultPassed
	finished := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	data, err := attemptsWorkbook([]Attempt{{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		QuizID:       &quizID,
		EnrollmentID: uuid.New(),
		Number:       2,
		Score:        &score,
		Result:       &result,
		StartedAt:    finished.Add(-time.Hour),
		FinishedAt:   &finished,
	}})
	if err != nil {
		t.Fatalf("workbook: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header plus one row, got %d", len(rows))
	}
	if rows[1][2] != "QUIZ" || rows[1][3] != quizID.String() || rows[1][7] != ResultPassed {
		t.Fatalf("unexpected row: %v", rows[1])
	}
}
