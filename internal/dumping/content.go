package dumping

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/provdump/provdump/internal/orm"
)

// ContentGenerator materializes a single node's metadata and I/O content into
// a prepared directory. Workflow children are the node dumper's concern, not
// this component's.
type ContentGenerator struct {
	cfg    Config
	reader GraphReader
	log    *slog.Logger
}

// NewContentGenerator creates a content generator.
func NewContentGenerator(cfg Config, reader GraphReader, log *slog.Logger) *ContentGenerator {
	return &ContentGenerator{cfg: cfg, reader: reader, log: log}
}

// ioLayout maps the four calculation content buckets to directory names.
// In flat layout every bucket collapses into the node directory itself.
type ioLayout struct {
	repository string
	retrieved  string
	inputs     string
	outputs    string
}

func (g *ContentGenerator) layout() ioLayout {
	if g.cfg.FlatLayout {
		return ioLayout{}
	}
	return ioLayout{
		repository: "inputs",
		retrieved:  "outputs",
		inputs:     "node_inputs",
		outputs:    "node_outputs",
	}
}

// GenerateAll writes the node's metadata file and, for calculations, its
// repository, retrieved, and linked I/O content.
func (g *ContentGenerator) GenerateAll(ctx context.Context, node *orm.Node, dir string) error {
	if err := g.writeMetadata(ctx, node, dir); err != nil {
		return err
	}
	if node.Kind == orm.KindCalculation {
		return g.generateCalculationContent(ctx, node, dir)
	}
	return nil
}

// nodeMetadata is the YAML layout of the per-node metadata summary. Struct
// types keep the key order stable.
type nodeMetadata struct {
	Node       nodeData          `yaml:"node data"`
	User       *userData         `yaml:"user data,omitempty"`
	Computer   *computerData     `yaml:"computer data,omitempty"`
	Attributes map[string]any    `yaml:"node attributes,omitempty"`
	Extras     map[string]any    `yaml:"node extras,omitempty"`
}

type nodeData struct {
	Label       string `yaml:"label"`
	Description string `yaml:"description"`
	PK          int64  `yaml:"pk"`
	UUID        string `yaml:"uuid"`
	CTime       string `yaml:"ctime"`
	MTime       string `yaml:"mtime"`
	NodeType    string `yaml:"node_type"`
	ProcessType string `yaml:"process_type"`
	FinishedOK  bool   `yaml:"is_finished_ok"`
}

type userData struct {
	FirstName   string `yaml:"first_name"`
	LastName    string `yaml:"last_name"`
	Email       string `yaml:"email"`
	Institution string `yaml:"institution"`
}

type computerData struct {
	Label         string `yaml:"label"`
	Hostname      string `yaml:"hostname"`
	SchedulerType string `yaml:"scheduler_type"`
	TransportType string `yaml:"transport_type"`
}

func (g *ContentGenerator) writeMetadata(ctx context.Context, node *orm.Node, dir string) error {
	meta := nodeMetadata{
		Node: nodeData{
			Label:       node.Label,
			Description: node.Description,
			PK:          node.PK,
			UUID:        node.UUID.String(),
			CTime:       node.CTime.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
			MTime:       node.MTime.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
			NodeType:    node.NodeType,
			ProcessType: node.ProcessType,
			FinishedOK:  node.FinishedOK,
		},
	}

	if node.User != nil {
		meta.User = &userData{
			FirstName:   node.User.FirstName,
			LastName:    node.User.LastName,
			Email:       node.User.Email,
			Institution: node.User.Institution,
		}
	}
	if node.Computer != nil {
		meta.Computer = &computerData{
			Label:         node.Computer.Label,
			Hostname:      node.Computer.Hostname,
			SchedulerType: node.Computer.SchedulerType,
			TransportType: node.Computer.TransportType,
		}
	}

	if g.cfg.IncludeAttributes {
		attrs, err := g.reader.Attributes(ctx, node.UUID)
		if err != nil {
			return NewStoreError("fetch attributes", err)
		}
		if len(attrs) > 0 {
			meta.Attributes = attrs
		}
	}
	if g.cfg.IncludeExtras {
		extras, err := g.reader.Extras(ctx, node.UUID)
		if err != nil {
			return NewStoreError("fetch extras", err)
		}
		if len(extras) > 0 {
			meta.Extras = extras
		}
	}

	raw, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata of node %s: %w", node.UUID, err)
	}

	target := filepath.Join(dir, MetadataFileName)
	if err := os.WriteFile(target, raw, 0o644); err != nil {
		return fmt.Errorf("write metadata file %s: %w", target, err)
	}
	return nil
}

func (g *ContentGenerator) generateCalculationContent(ctx context.Context, node *orm.Node, dir string) error {
	layout := g.layout()

	// The calculation's own repository files.
	if err := g.copyRepoIfAny(ctx, node.UUID, filepath.Join(dir, layout.repository)); err != nil {
		return err
	}

	outputLinks, err := g.reader.OutgoingLinks(ctx, node.UUID, orm.LinkCreate)
	if err != nil {
		return NewStoreError("resolve output links", err)
	}

	// The retrieved bucket is laid out separately from other created outputs.
	var created []orm.LinkTriple
	for _, link := range outputLinks {
		if link.Label == orm.RetrievedLinkLabel {
			if err := g.copyRepoIfAny(ctx, link.Node.UUID, filepath.Join(dir, layout.retrieved)); err != nil {
				return err
			}
			continue
		}
		created = append(created, link)
	}

	if g.cfg.IncludeInputs {
		inputLinks, err := g.reader.IncomingLinks(ctx, node.UUID, orm.LinkInputCalc)
		if err != nil {
			return NewStoreError("resolve input links", err)
		}
		if err := g.dumpIOFiles(ctx, filepath.Join(dir, layout.inputs), inputLinks); err != nil {
			return err
		}
	}

	if g.cfg.IncludeOutputs && len(created) > 0 {
		if err := g.dumpIOFiles(ctx, filepath.Join(dir, layout.outputs), created); err != nil {
			return err
		}
	}

	return nil
}

// dumpIOFiles materializes the file-bearing far ends of a link set. Nested
// layout splits the link label on "__" into subdirectories; flat layout puts
// everything into the parent directory. Linked nodes with empty repositories
// are skipped so no empty directories appear.
func (g *ContentGenerator) dumpIOFiles(ctx context.Context, parent string, links []orm.LinkTriple) error {
	for _, link := range links {
		files, err := g.reader.ListRepoFiles(ctx, link.Node.UUID)
		if err != nil {
			// A linked node may have vanished mid-run; skip it and continue.
			g.log.Warn("skipping unresolvable linked node", "node", link.Node.UUID, "err", err)
			continue
		}
		if len(files) == 0 {
			continue
		}

		target := parent
		if !g.cfg.FlatLayout {
			parts := strings.Split(link.Label, "__")
			target = filepath.Join(append([]string{parent}, parts...)...)
		}
		if err := g.reader.CopyRepoTree(ctx, link.Node.UUID, target); err != nil {
			return NewStoreError("copy linked repository", err)
		}
	}
	return nil
}

// copyRepoIfAny copies a node's repository when it has files; empty
// repositories produce no directory.
func (g *ContentGenerator) copyRepoIfAny(ctx context.Context, id uuid.UUID, dest string) error {
	// dest may equal the node dir in flat layout, which already exists.
	files, err := g.reader.ListRepoFiles(ctx, id)
	if err != nil {
		return NewStoreError("list repository", err)
	}
	if len(files) == 0 {
		return nil
	}
	if err := g.reader.CopyRepoTree(ctx, id, dest); err != nil {
		return NewStoreError("copy repository", err)
	}
	return nil
}
