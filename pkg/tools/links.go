package tools

import (
	"context"
	"fmt"

	"sgi/pkg/proto"
)

// CreateMagicLinkTool asks the orchestrator to mint a shareable link. It
// does not mint itself; minting needs the link service and happens when the
// turn's reply is assembled.
type CreateMagicLinkTool struct{}

func (t *CreateMagicLinkTool) Name() string { return ToolCreateMagicLink }

func (t *CreateMagicLinkTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolCreateMagicLink,
		Description: "Crée un lien vers une vue du tableau de bord (détail, classement ou liste filtrée).",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"resource_type": {
					Type:        "string",
					Description: "Vue cible",
					Enum:        proto.ResourceTypes(),
				},
				"resource_id": {Type: "string", Description: "Identifiant, requis pour project, incident et finance"},
				"filters":     {Type: "object", Description: "Filtres de la vue (clé: valeur)"},
			},
			Required: []string{"resource_type"},
		},
	}
}

func (t *CreateMagicLinkTool) PromptDocumentation() string {
	return `- **create_magic_link** - lien vers le tableau de bord
  - Paramètres: resource_type (REQUIS: project|incident|finance|top_projects|projects|incidents|stock|snapshot), resource_id, filters`
}

func (t *CreateMagicLinkTool) Exec(_ context.Context, args Args) (*Result, error) {
	rt := args.String("resource_type")
	id := args.String("resource_id")
	if proto.IsDetailResource(rt) && id == "" {
		return nil, validationError(ToolCreateMagicLink, "resource_id", fmt.Sprintf("required for %s", rt))
	}
	return &Result{
		Summary: "Lien généré, il sera joint à la réponse",
		Count:   0,
		Link: &proto.LinkRequest{
			ResourceType: rt,
			ResourceID:   id,
			Filters:      args.StringMap("filters"),
			Tool:         ToolCreateMagicLink,
		},
	}, nil
}
