package main

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index content into the knowledge base",
	Long: `Index content into the knowledge base.

Examples:
  voxidesk index --text "The guest wifi password rotates every Monday" --title "Wifi"
  voxidesk index --file ./handbook.pdf
  voxidesk index --url https://example.com/runbook --connector web`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		pageURL, _ := cmd.Flags().GetString("url")
		title, _ := cmd.Flags().GetString("title")
		connector, _ := cmd.Flags().GetString("connector")
		sourceType, _ := cmd.Flags().GetString("source-type")
		userID, _ := cmd.Flags().GetString("user")

		if text == "" && file == "" && pageURL == "" {
			return fmt.Errorf("one of --text, --file, or --url is required")
		}

		req := map[string]any{
			"action":      "index",
			"connectorId": connector,
			"sourceType":  sourceType,
			"userId":      userID,
		}

		switch {
		case text != "":
			doc := map[string]any{"content": text}
			if title != "" {
				doc["title"] = title
			}
			req["documents"] = []any{doc}
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			req["files"] = []any{map[string]any{
				"name": filepath.Base(file),
				"data": base64.StdEncoding.EncodeToString(data),
			}}
		case pageURL != "":
			req["urls"] = []string{pageURL}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/connector", req)
		if err != nil {
			return err
		}

		var result struct {
			Success bool `json:"success"`
			Results []struct {
				Title  string `json:"title"`
				Status string `json:"status"`
				ID     string `json:"id"`
				Error  string `json:"error"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, r := range result.Results {
			switch r.Status {
			case "indexed":
				printSuccess("Indexed %q (%s)", r.Title, r.ID)
			case "skipped":
				printWarning("Skipped %q (already indexed)", r.Title)
			default:
				printError("Failed %q: %s", r.Title, r.Error)
			}
		}
		return nil
	},
}

func init() {
	indexCmd.Flags().String("text", "", "text content to index")
	indexCmd.Flags().String("file", "", "file path to index (text, markdown, or PDF)")
	indexCmd.Flags().String("url", "", "URL to fetch and index")
	indexCmd.Flags().String("title", "", "title for the document")
	indexCmd.Flags().String("connector", "file", "connector the document belongs to")
	indexCmd.Flags().String("source-type", "document", "source type label")
	indexCmd.Flags().String("user", "", "owner user ID (empty means globally visible)")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")
		connector, _ := cmd.Flags().GetString("connector")
		userID, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"action":      "search",
			"query":       query,
			"limit":       limit,
			"connectorId": connector,
			"userId":      userID,
		}
		resp, err := client.post(cmd.Context(), "/connector", req)
		if err != nil {
			return err
		}

		var result struct {
			Success bool `json:"success"`
			Results []struct {
				ID          string   `json:"id"`
				ConnectorID string   `json:"connectorId"`
				Title       string   `json:"title"`
				Content     string   `json:"content"`
				Similarity  *float64 `json:"similarity"`
				KeywordRank *float64 `json:"keywordRank"`
			} `json:"results"`
			SearchType string `json:"searchType"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		fmt.Printf("Search type: %s\n", result.SearchType)
		for i, r := range result.Results {
			header := fmt.Sprintf("Result %d", i+1)
			if r.Similarity != nil {
				header += fmt.Sprintf(" [similarity: %.3f]", *r.Similarity)
			} else if r.KeywordRank != nil {
				header += fmt.Sprintf(" [rank: %.3f]", *r.KeywordRank)
			}
			fmt.Printf("\n%s %s (%s)\n", paint(ansiBold, header), r.Title, r.ConnectorID)

			content := r.Content
			if len(content) > 500 {
				content = content[:500] + "..."
			}
			fmt.Printf("  %s\n", content)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 5, "maximum number of results")
	searchCmd.Flags().String("connector", "", "restrict to one connector")
	searchCmd.Flags().String("user", "", "owner scope for the search")
}

// --- purge ---

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all documents belonging to a connector",
	RunE: func(cmd *cobra.Command, args []string) error {
		connector, _ := cmd.Flags().GetString("connector")
		userID, _ := cmd.Flags().GetString("user")
		confirm, _ := cmd.Flags().GetBool("confirm")

		if connector == "" {
			return fmt.Errorf("--connector is required")
		}
		if !confirm {
			printWarning("This will delete all documents from connector %q. Use --confirm to proceed.", connector)
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"action":      "delete",
			"connectorId": connector,
			"userId":      userID,
		}
		resp, err := client.post(cmd.Context(), "/connector", req)
		if err != nil {
			return err
		}

		var result struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s", result.Message)
		return nil
	},
}

func init() {
	purgeCmd.Flags().String("connector", "", "connector to purge")
	purgeCmd.Flags().String("user", "", "restrict the purge to one owner's documents")
	purgeCmd.Flags().Bool("confirm", false, "confirm the purge")
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List indexed documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		q, _ := cmd.Flags().GetString("q")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/documents?limit=%d&offset=%d", limit, offset)
		if q != "" {
			path = "/documents?q=" + url.QueryEscape(q)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Documents []struct {
				ID          string `json:"id"`
				ConnectorID string `json:"connectorId"`
				Title       string `json:"title"`
				HasVector   bool   `json:"hasVector"`
				CreatedAt   string `json:"createdAt"`
			} `json:"documents"`
			Count int `json:"count"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Count == 0 {
			fmt.Println("No documents found.")
			return nil
		}

		for _, d := range result.Documents {
			vec := " "
			if d.HasVector {
				vec = "*"
			}
			fmt.Printf("%s %s  %-12s  %s\n",
				vec,
				paint(ansiCyan, d.ID[:8]),
				d.ConnectorID,
				d.Title,
			)
		}
		fmt.Printf("\n%d documents (* = embedded)\n", result.Count)
		return nil
	},
}

func init() {
	docsCmd.Flags().Int("limit", 50, "maximum number of documents to list")
	docsCmd.Flags().Int("offset", 0, "listing offset")
	docsCmd.Flags().String("q", "", "substring filter on title and content")
}
