package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"PixelBoard/internal/web3"
	"PixelBoard/sdk/go/gridclient"
)

// A small walkthrough: read the stats, generate an image, find space and buy
// it. Payment is only attempted when PIXELBOARD_WALLET_KEY is set.
func main() {
	baseURL := flag.String("url", "http://localhost:8080", "PixelBoard server")
	maxPayment := flag.Int64("max-payment", 1_000_000, "maximum payment per request in atomic USDC units")
	flag.Parse()

	opts := []gridclient.Option{gridclient.WithMaxPayment(*maxPayment)}
	if key := os.Getenv("PIXELBOARD_WALLET_KEY"); key != "" {
		wallet, err := web3.WalletFromHex(key)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		opts = append(opts, gridclient.WithPayer(web3.NewPayer(wallet)))
	}
	client, err := gridclient.NewClient(*baseURL, opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	stats, err := client.Stats(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("sold %d/%d cells, revenue $%s\n", stats.CellsSold, stats.TotalCells, stats.RevenueUSD)

	img, err := client.GenerateImage(ctx, gridclient.ImageRequest{Prompt: "a retro rocket logo", Width: 20, Height: 20})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	space, err := client.FindSpace(ctx, img.Width, img.Height)
	if err != nil || !space.Found {
		fmt.Fprintln(os.Stderr, "no space found", err)
		os.Exit(1)
	}
	ad, err := client.PlaceAd(ctx, gridclient.AdRequest{
		X: space.X, Y: space.Y, Width: img.Width, Height: img.Height,
		ImageID: img.ID, Link: "https://example.com", Title: "Rocket",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("placed ad %s at (%d,%d) for $%s\n", ad.ID, ad.X, ad.Y, ad.TotalCostUSD)
	if ad.Settlement != nil {
		fmt.Printf("settled in %s on %s\n", ad.Settlement.Transaction, ad.Settlement.Network)
	}
}
