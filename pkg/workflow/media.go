package workflow

import (
	"context"
	"fmt"
	"strings"

	"sgi/pkg/datastore"
	"sgi/pkg/domain"
	"sgi/pkg/proto"
	"sgi/pkg/session"
)

const maxCaption = 500

func (e *Engine) mediaSteps() []*Step {
	fam := session.FamilyMedia
	return []*Step{
		{
			State:   StateMediaProject,
			Family:  fam,
			Accepts: AcceptText,
			Prompt: func(context.Context, *session.Session) (proto.Outbound, error) {
				return proto.Outbound{Text: "📁 Ajout de média. Pour quel projet ? (nom ou code)"}, nil
			},
			Handle: func(ctx context.Context, _ *session.Session, in Input) (Outcome, error) {
				p, ids, err := e.resolveProject(ctx, in.Text)
				if err != nil {
					return Outcome{}, err
				}
				if p == nil {
					return Outcome{Next: StateMediaProjectSelect, Slots: session.MediaSlots{Candidates: ids}}, nil
				}
				return Outcome{Next: StateMediaFile, Slots: session.MediaSlots{ProjectID: p.ID(), ProjectName: domain.ProjectTitle(p)}}, nil
			},
		},
		{
			State:   StateMediaProjectSelect,
			Family:  fam,
			Accepts: AcceptText | AcceptSelection,
			Prompt: func(ctx context.Context, s *session.Session) (proto.Outbound, error) {
				return e.projectChoice(ctx, slotsOf[session.MediaSlots](s).Candidates)
			},
			Handle: func(ctx context.Context, s *session.Session, in Input) (Outcome, error) {
				p, err := e.pickProject(ctx, slotsOf[session.MediaSlots](s).Candidates, in)
				if err != nil {
					return Outcome{}, err
				}
				return Outcome{Next: StateMediaFile, Slots: session.MediaSlots{ProjectID: p.ID(), ProjectName: domain.ProjectTitle(p)}}, nil
			},
		},
		{
			State:   StateMediaFile,
			Family:  fam,
			Accepts: AcceptMedia,
			Prompt: func(_ context.Context, s *session.Session) (proto.Outbound, error) {
				return proto.Outbound{Text: fmt.Sprintf("Envoyez la photo ou le document pour *%s*.", slotsOf[session.MediaSlots](s).ProjectName)}, nil
			},
			Handle: func(_ context.Context, _ *session.Session, in Input) (Outcome, error) {
				slots := session.MediaSlots{MediaID: in.Media.ID, MediaURL: in.Media.URL, MimeType: in.Media.MimeType}
				if caption := strings.TrimSpace(in.Media.Caption); caption != "" {
					slots.Caption = truncateRunes(caption, maxCaption)
					return Outcome{Next: StateMediaConfirm, Slots: slots}, nil
				}
				return Outcome{Next: StateMediaCaption, Slots: slots}, nil
			},
		},
		{
			State:     StateMediaCaption,
			Family:    fam,
			Accepts:   AcceptText | AcceptSelection,
			Resumable: true,
			Prompt: func(context.Context, *session.Session) (proto.Outbound, error) {
				return skipMenu("Ajoutez une légende, ou touchez *Passer*."), nil
			},
			Handle: func(_ context.Context, _ *session.Session, in Input) (Outcome, error) {
				if isSkip(in) {
					return Outcome{Next: StateMediaConfirm}, nil
				}
				caption := strings.TrimSpace(in.Text)
				if caption == "" {
					return Outcome{}, reject("Écrivez une légende ou répondez *passer*.")
				}
				return Outcome{Next: StateMediaConfirm, Slots: session.MediaSlots{Caption: truncateRunes(caption, maxCaption)}}, nil
			},
		},
		confirmStep(StateMediaConfirm, fam, mediaSummary, mediaMissing, e.saveMedia),
	}
}

func mediaSummary(s *session.Session) string {
	sl := slotsOf[session.MediaSlots](s)
	text := fmt.Sprintf("*Ajout de média*\nProjet: %s\nFichier: %s", sl.ProjectName, mimeLabel(sl.MimeType))
	if sl.Caption != "" {
		text += "\nLégende: " + sl.Caption
	}
	return text
}

func mediaMissing(s *session.Session) session.State {
	sl := slotsOf[session.MediaSlots](s)
	switch {
	case sl.ProjectID == "":
		return StateMediaProject
	case sl.MediaID == "":
		return StateMediaFile
	}
	return ""
}

func (e *Engine) saveMedia(ctx context.Context, s *session.Session) (string, error) {
	sl := slotsOf[session.MediaSlots](s)
	id, err := e.store.Insert(ctx, datastore.Media, datastore.Record{
		"project_id":  sl.ProjectID,
		"media_id":    sl.MediaID,
		"media_url":   sl.MediaURL,
		"mime_type":   sl.MimeType,
		"caption":     sl.Caption,
		"uploaded_by": s.Identity,
	})
	if err != nil {
		return "", fmt.Errorf("failed to save media: %w", err)
	}
	e.logger.WithIdentity(s.Identity).Info("media %s attached to project %s", id, sl.ProjectID)
	return fmt.Sprintf("✅ Média ajouté au projet %s (%s).", sl.ProjectName, strings.ToLower(mimeLabel(sl.MimeType))), nil
}

func mimeLabel(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return "Photo"
	case strings.HasPrefix(mime, "video/"):
		return "Vidéo"
	case strings.HasPrefix(mime, "audio/"):
		return "Audio"
	}
	return "Document"
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
