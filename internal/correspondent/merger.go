package correspondent

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/majlabs/docflow/pkg/paperless"
)

// MergeGroup is one set of correspondents sharing a normalized key.
type MergeGroup struct {
	Key        string
	Primary    paperless.Correspondent
	Duplicates []paperless.Correspondent
}

// MergeReport summarizes one merger run.
type MergeReport struct {
	Groups     []MergeGroup
	Reassigned int
	Deleted    int
	DryRun     bool
}

// Merger folds correspondents that normalize to the same key into one.
type Merger struct {
	client paperless.Client
	log    *zap.Logger
}

func NewMerger(client paperless.Client) *Merger {
	return &Merger{client: client, log: zap.L().Named("merger")}
}

// Plan groups all correspondents by normalized key and picks the one with
// the highest document count as each group's primary. Ties break toward the
// lowest id so repeated runs plan identically.
func (m *Merger) Plan(ctx context.Context) ([]MergeGroup, error) {
	all, err := m.client.ListCorrespondents(ctx)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string][]paperless.Correspondent)
	for _, c := range all {
		key := Normalize(c.Name)
		byKey[key] = append(byKey[key], c)
	}

	var groups []MergeGroup
	for key, members := range byKey {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			if members[i].DocumentCount != members[j].DocumentCount {
				return members[i].DocumentCount > members[j].DocumentCount
			}
			return members[i].ID < members[j].ID
		})
		groups = append(groups, MergeGroup{
			Key:        key,
			Primary:    members[0],
			Duplicates: members[1:],
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })
	return groups, nil
}

// Run executes the merge plan. With dryRun set it only reports what would
// happen.
func (m *Merger) Run(ctx context.Context, dryRun bool) (*MergeReport, error) {
	groups, err := m.Plan(ctx)
	if err != nil {
		return nil, err
	}
	report := &MergeReport{Groups: groups, DryRun: dryRun}

	for _, group := range groups {
		m.log.Info("merging correspondents",
			zap.String("key", group.Key),
			zap.String("primary", group.Primary.Name),
			zap.Int("duplicates", len(group.Duplicates)),
			zap.Bool("dry_run", dryRun))
		if dryRun {
			continue
		}

		for _, dup := range group.Duplicates {
			docs, err := m.client.ListDocumentsByCorrespondent(ctx, dup.ID)
			if err != nil {
				return report, err
			}
			for _, doc := range docs {
				if err := m.client.SetCorrespondent(ctx, doc.ID, group.Primary.ID); err != nil {
					return report, err
				}
				report.Reassigned++
			}
			if err := m.client.DeleteCorrespondent(ctx, dup.ID); err != nil {
				return report, err
			}
			report.Deleted++
		}
	}
	return report, nil
}
