package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/murmur-app/murmur/internal/store"
)

var speakersCmd = &cobra.Command{
	Use:   "speakers",
	Short: "Inspect and rename persisted speaker profiles",
}

var speakersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List speaker profiles",
	RunE:  listSpeakers,
}

var speakersRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Assign a display name to a speaker profile",
	Args:  cobra.ExactArgs(2),
	RunE:  renameSpeaker,
}

func init() {
	speakersCmd.AddCommand(speakersListCmd)
	speakersCmd.AddCommand(speakersRenameCmd)
	rootCmd.AddCommand(speakersCmd)
}

func openStore() (*store.Badger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.OpenBadger(store.BadgerOptions{Dir: cfg.StorePath})
}

func listSpeakers(cmd *cobra.Command, _ []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	profiles, err := db.FindAllSpeakerProfiles(cmd.Context())
	if err != nil {
		return err
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Ordinal < profiles[j].Ordinal })

	for _, p := range profiles {
		fmt.Printf("%3d  %-24s %s  first seen %s\n",
			p.Ordinal, p.Name, p.ID, p.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func renameSpeaker(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := db.RenameSpeakerProfile(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("renamed %s to %q\n", args[0], args[1])
	return nil
}
