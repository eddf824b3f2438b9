package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cafe-cli/internal/model"
	"github.com/sells-group/cafe-cli/internal/recommend"
)

var (
	recLocation     string
	recMood         string
	recPrice        string
	recRequirements []string
	recJSON         bool
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Recommend cafes near a location",
	Example: `  cafe-cli recommend --location "Capitol Hill, Seattle" --mood cozy --require wifi,outlets
  cafe-cli recommend --location "94110" --mood lively --price low --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("recommend"); err != nil {
			return err
		}
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		resp, err := env.Service.Recommend(ctx, buildRequest())
		if err != nil {
			return err
		}

		zap.L().Debug("recommendation served",
			zap.String("request_id", resp.RequestID),
			zap.String("source", string(resp.Source)),
		)

		if recJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}
		return printRecommendations(os.Stdout, resp)
	},
}

func buildRequest() recommend.Request {
	req := recommend.Request{
		Location:   recLocation,
		Mood:       model.Vibe(recMood),
		PriceRange: model.PriceTier(recPrice),
	}
	for _, r := range recRequirements {
		req.Requirements = append(req.Requirements, model.Amenity(r))
	}
	return req
}

func printRecommendations(out io.Writer, resp *recommend.Response) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tSCORE\tVIBE\tAMENITY\tDISTANCE\tPRICE\tADDRESS")
	row := func(i int, it recommend.Item) {
		tier := string(it.PriceTier)
		if tier == "" {
			tier = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%.3f\t%.2f\t%.2f\t%.0fm\t%s\t%s\n",
			i, it.Name, it.CombinedScore, it.VibeScore, it.AmenityScore, it.DistanceMeters, tier, it.Address)
	}
	for i, it := range resp.Recommendations {
		row(i+1, it)
	}
	if len(resp.More) > 0 {
		fmt.Fprintln(w, "\t\t\t\t\t\t\t")
		for i, it := range resp.More {
			row(len(resp.Recommendations)+i+1, it)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if resp.Unanalyzed > 0 {
		fmt.Fprintf(out, "\n%d cafe(s) ranked without review analysis.\n", resp.Unanalyzed)
	}
	return nil
}

func init() {
	recommendCmd.Flags().StringVar(&recLocation, "location", "", "address, neighborhood or postal code (required)")
	recommendCmd.Flags().StringVar(&recMood, "mood", "", "cozy, modern, quiet, lively, traditional or artsy (required)")
	recommendCmd.Flags().StringVar(&recPrice, "price", "", "none, low, mid or high")
	recommendCmd.Flags().StringSliceVar(&recRequirements, "require", nil, "required amenities, e.g. wifi,outlets")
	recommendCmd.Flags().BoolVar(&recJSON, "json", false, "print the full response as JSON")
	_ = recommendCmd.MarkFlagRequired("location")
	_ = recommendCmd.MarkFlagRequired("mood")
	rootCmd.AddCommand(recommendCmd)
}
