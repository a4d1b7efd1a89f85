// Package suggest learns a rule from a manual correction.
package suggest

import (
	"fmt"

	"fjacquet/txrules/cmd/root"
	"fjacquet/txrules/internal/container"
	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/store"

	"github.com/spf13/cobra"
)

var (
	field string
	value string
	actor string
)

// Cmd represents the suggest command
var Cmd = &cobra.Command{
	Use:   "suggest <transaction-id>",
	Short: "Learn a rule from a manual category or beneficiary change",
	Long: `Suggest records that the category or beneficiary of a transaction was
changed by hand to the entity given with --value, and creates the matching
auto-generated rule when the workspace settings allow it.`,
	Args: cobra.ExactArgs(1),
	RunE: suggestFunc,
}

func init() {
	Cmd.Flags().StringVar(&field, "field", string(models.LearnCategory), "Changed field: category or beneficiary")
	Cmd.Flags().StringVar(&value, "value", "", "Id of the new category or beneficiary")
	Cmd.Flags().StringVar(&actor, "actor", "", "User who made the change")
	_ = Cmd.MarkFlagRequired("value")
}

func suggestFunc(cmd *cobra.Command, args []string) error {
	f := models.LearnField(field)
	if !f.IsValid() {
		return fmt.Errorf("invalid field %q: use category or beneficiary", field)
	}

	return root.Run(func(c *container.Container) error {
		ctx := cmd.Context()
		ws := root.SharedFlags.Workspace
		repo := c.GetRepository()

		tx, err := repo.GetTransaction(ctx, ws, args[0])
		if err != nil {
			return fmt.Errorf("failed to load transaction %s: %w", args[0], err)
		}

		kind := models.EntityCategory
		old := tx.Category
		if f == models.LearnBeneficiary {
			kind = models.EntityBeneficiary
			old = tx.Beneficiary
		}
		entity, err := repo.LookupEntity(ctx, kind, value)
		if err != nil || entity.WorkspaceID != ws {
			if err == nil {
				err = store.ErrNotFound
			}
			return fmt.Errorf("unknown %s %q: %w", kind, value, err)
		}
		newValue := entity.Ref()

		rule, ok := c.GetAdvisor().Suggest(ctx, tx, f, old, &newValue, actor)
		if !ok {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "No rule suggested.")
			return err
		}
		return root.Render(cmd, c, []models.Rule{*rule})
	})
}
