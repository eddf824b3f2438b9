package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cafe-cli/internal/cache"
	"github.com/sells-group/cafe-cli/internal/model"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the search cache",
}

var (
	invKey    string
	invLat    float64
	invLng    float64
	invRadius int
	invPrice  string
)

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Drop a cached nearby search",
	Long: "Removes a search result set from the durable tier so the next matching request " +
		"queries the provider again. Pass --key, or --lat/--lng to derive it. Running servers " +
		"keep their in-process copy until it expires.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		key, err := invalidationKey(cmd.Flags().Changed("lat") && cmd.Flags().Changed("lng"))
		if err != nil {
			return err
		}
		if err := cfg.Validate("cache"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		coord := cache.New(cache.NewMemoryTier(cfg.Cache.SearchTTL, 0), st, cacheConfig(cfg.Cache))
		if err := coord.InvalidateSearch(ctx, key); err != nil {
			return eris.Wrap(err, "cache invalidate")
		}

		zap.L().Info("search cache invalidated", zap.String("key", key))
		fmt.Fprintln(os.Stdout, key)
		return nil
	},
}

func invalidationKey(haveCoords bool) (string, error) {
	switch {
	case invKey != "":
		return invKey, nil
	case haveCoords:
		radius := invRadius
		if radius <= 0 {
			radius = cfg.Recommend.RadiusMeters
		}
		tier := model.PriceTier(invPrice)
		if !tier.Valid() {
			return "", eris.Errorf("cache invalidate: unknown price tier %q", invPrice)
		}
		if !tier.Specified() {
			tier = ""
		}
		return cache.SearchKey(invLat, invLng, radius, tier), nil
	default:
		return "", eris.New("cache invalidate: --key or both --lat and --lng are required")
	}
}

func init() {
	cacheInvalidateCmd.Flags().StringVar(&invKey, "key", "", "search key as returned in responses")
	cacheInvalidateCmd.Flags().Float64Var(&invLat, "lat", 0, "origin latitude")
	cacheInvalidateCmd.Flags().Float64Var(&invLng, "lng", 0, "origin longitude")
	cacheInvalidateCmd.Flags().IntVar(&invRadius, "radius", 0, "search radius in metres (default from config)")
	cacheInvalidateCmd.Flags().StringVar(&invPrice, "price", "", "price tier of the cached search")
	cacheCmd.AddCommand(cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}
