// Package report builds the care-handoff document sent to the care team when
// an assessment recommends urgent attention.
package report

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/signintech/gopdf"

	"health-companion/internal/chat"
	"health-companion/internal/record"
)

type TelegramClient interface {
	SendMessage(chatID int64, text string) error
	SendDocument(chatID int64, fileData []byte, fileName string) error
}

type Service struct {
	tgClient       TelegramClient
	careTeamChatID int64
}

func NewService(tg TelegramClient, careTeamChatID int64) *Service {
	return &Service{
		tgClient:       tg,
		careTeamChatID: careTeamChatID,
	}
}

// SendHandoff renders the turn's clinical picture as a PDF and delivers it.
func (s *Service) SendHandoff(ctx context.Context, tc *chat.TurnContext, a *record.Assessment) error {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	fontPaths := []string{
		"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
		"/usr/share/fonts/dejavu/DejaVuSans.ttf",
		"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	}
	var fontErr error
	fontLoaded := false
	for _, path := range fontPaths {
		if err := pdf.AddTTFFont("DejaVu", path); err == nil {
			fontLoaded = true
			break
		} else {
			fontErr = err
		}
	}
	if !fontLoaded {
		return fmt.Errorf("failed to load font for PDF, last error: %w", fontErr)
	}

	if err := pdf.SetFont("DejaVu", "", 20); err != nil {
		return err
	}
	pdf.Cell(nil, "Care Handoff Report")
	pdf.Br(30)

	if err := pdf.SetFont("DejaVu", "", 12); err != nil {
		return err
	}
	pdf.Cell(nil, fmt.Sprintf("Date: %s", time.Now().Format("02 Jan 2006 15:04")))
	pdf.Br(15)
	pdf.Cell(nil, fmt.Sprintf("User ID: %s", tc.UserID))
	pdf.Br(15)
	pdf.Cell(nil, fmt.Sprintf("Recommended action: %s", a.RecommendedAction))
	pdf.Br(25)

	if err := pdf.SetFont("DejaVu", "", 14); err != nil {
		return err
	}
	pdf.Cell(nil, "Assessment:")
	pdf.Br(15)
	if err := pdf.SetFont("DejaVu", "", 11); err != nil {
		return err
	}
	s.writeWrapped(&pdf, fmt.Sprintf("%s (confidence %.0f%%)", a.Hypothesis, a.Confidence*100))
	if a.Reasoning != "" {
		s.writeWrapped(&pdf, a.Reasoning)
	}
	if len(a.Differentials) > 0 {
		s.writeWrapped(&pdf, "Differentials: "+strings.Join(a.Differentials, ", "))
	}
	pdf.Br(10)

	if err := pdf.SetFont("DejaVu", "", 14); err != nil {
		return err
	}
	pdf.Cell(nil, "Tracked episodes:")
	pdf.Br(15)
	if err := pdf.SetFont("DejaVu", "", 11); err != nil {
		return err
	}
	episodes := tc.ActiveEpisodes()
	if len(episodes) == 0 {
		pdf.Cell(nil, "- none")
		pdf.Br(12)
	}
	for _, e := range episodes {
		name := "unknown"
		if sym, ok := tc.Symptom(e.SymptomID); ok {
			name = sym.Name
		}
		line := fmt.Sprintf("- %s: stage %s, started %s", name, e.Stage, e.StartedAt.Format("02 Jan 2006"))
		if e.Severity > 0 {
			line += fmt.Sprintf(", severity %d/10", e.Severity)
		}
		if e.Location != "" {
			line += ", " + e.Location
		}
		s.writeWrapped(&pdf, line)
	}
	pdf.Br(10)

	if findings := tc.NegativeFindings(); len(findings) > 0 {
		if err := pdf.SetFont("DejaVu", "", 14); err != nil {
			return err
		}
		pdf.Cell(nil, "Denied symptoms:")
		pdf.Br(15)
		if err := pdf.SetFont("DejaVu", "", 11); err != nil {
			return err
		}
		for _, f := range findings {
			s.writeWrapped(&pdf, "- "+f.SymptomName)
		}
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to write PDF: %w", err)
	}

	fileName := fmt.Sprintf("handoff_%s.pdf", a.ID.String())
	if err := s.tgClient.SendDocument(s.careTeamChatID, buf.Bytes(), fileName); err != nil {
		return err
	}
	return nil
}

func (s *Service) writeWrapped(pdf *gopdf.GoPdf, text string) {
	lines, _ := pdf.SplitText(text, 500)
	for _, l := range lines {
		pdf.Cell(nil, l)
		pdf.Br(12)
	}
	pdf.Br(3)
}
