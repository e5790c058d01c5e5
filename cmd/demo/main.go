// Command sv-demo runs the delegated-access flow end to end against an
// in-process vault cluster: builder registration, collection provisioning,
// a delegated user upload with a builder grant, a builder read of the
// shared plaintext, and owner-only deletion.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mkarech/skyvault/internal/errs"
	"github.com/mkarech/skyvault/internal/identity"
	"github.com/mkarech/skyvault/internal/model"
	"github.com/mkarech/skyvault/internal/nuc"
	"github.com/mkarech/skyvault/internal/session"
	"github.com/mkarech/skyvault/internal/vault"
	"github.com/mkarech/skyvault/internal/vaulttest"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "demo failed:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cluster, err := vaulttest.NewCluster(3)
	if err != nil {
		return err
	}
	defer cluster.Close()

	builderKP, err := identity.Generate()
	if err != nil {
		return err
	}
	userKP, err := identity.Generate()
	if err != nil {
		return err
	}
	cluster.Auth.Subscribe(builderKP.DID())
	fmt.Println("builder DID:", builderKP.DID())
	fmt.Println("user DID:   ", userKP.DID())

	sess, err := session.Initialize(ctx, session.Config{
		AuthURL:     cluster.AuthURL(),
		NodeURLs:    cluster.NodeURLs(),
		ProfileName: "Demo Builder",
	}, builderKP, session.NewMemory())
	if err != nil {
		return fmt.Errorf("bootstrap session: %w", err)
	}
	builder := sess.Builder
	fmt.Println("session ready, profile registered")

	const collectionID = "c2a1f0aa-0d4e-4a6c-9a3b-1f2e3d4c5b6a"
	if err := builder.CreateCollection(ctx, vault.TravelerCollection(collectionID)); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	fmt.Println("collection provisioned:", collectionID)

	user, err := vault.NewUser(ctx, userKP, cluster.NodeURLs(), vault.UserOptions{})
	if err != nil {
		return err
	}

	delegation, err := builder.Delegate(nuc.CmdDataCreate, userKP.DID(), time.Hour)
	if err != nil {
		return fmt.Errorf("delegate: %w", err)
	}
	fmt.Println("builder delegated data/create to user")

	ids, err := user.CreateData(ctx, delegation, vault.CreateDataArgs{
		Owner: userKP.DID(),
		ACL: &model.ACL{
			Grantee: builderKP.DID(),
			Read:    true,
			Write:   false,
			Execute: true,
		},
		Collection: collectionID,
		Data: []model.Record{{
			"name":            "Coder",
			"event_name":      "Hackathon",
			"travel_date":     map[string]any{"%allot": "02/04/2025"},
			"gate_number":     map[string]any{"%allot": "1"},
			"additional_note": map[string]any{"%allot": "I like to read books"},
		}},
	})
	if err != nil {
		return fmt.Errorf("user upload: %w", err)
	}
	ref := model.DataReference{Collection: collectionID, Document: ids[0]}
	fmt.Println("user uploaded owned record:", ref.Document)

	rec, err := builder.ReadData(ctx, ref)
	if err != nil {
		return fmt.Errorf("builder read: %w", err)
	}
	fmt.Println("builder read granted record, note:", rec["additional_note"])

	// The builder holds a read grant, not ownership.
	if err := builder.DeleteData(ctx, ref); !errors.Is(err, errs.ErrNotOwner) {
		return fmt.Errorf("builder delete should be refused, got: %v", err)
	}
	fmt.Println("builder delete refused (not the owner)")

	if err := user.DeleteData(ctx, ref); err != nil {
		return fmt.Errorf("user delete: %w", err)
	}
	fmt.Println("user deleted the record")

	if _, err := builder.ReadData(ctx, ref); err == nil {
		return errors.New("record still readable after delete")
	}
	fmt.Println("record gone, demo complete")
	return nil
}
