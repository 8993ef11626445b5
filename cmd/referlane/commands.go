package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage jobs in the reference provider",
}

var jobsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a job with its tags",
	Long: `Register a job with its tags.

Tags are name:category pairs; categories are SKILL, COMPANY, DOMAIN, LOCATION.

Example:
  referlane jobs add --id job-1 --title "Backend Engineer" --company Acme \
    --tag go:SKILL --tag python:SKILL --tag fintech:DOMAIN`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		title, _ := cmd.Flags().GetString("title")
		company, _ := cmd.Flags().GetString("company")
		tagSpecs, _ := cmd.Flags().GetStringArray("tag")

		if title == "" || company == "" {
			return fmt.Errorf("--title and --company are required")
		}

		type tag struct {
			Name     string `json:"name"`
			Category string `json:"category"`
		}
		var tags []tag
		for _, spec := range tagSpecs {
			name, category, ok := strings.Cut(spec, ":")
			if !ok {
				return fmt.Errorf("invalid tag %q, want name:category", spec)
			}
			tags = append(tags, tag{Name: name, Category: strings.ToUpper(category)})
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"id": id, "title": title, "company": company, "tags": tags}
		resp, err := client.post(cmd.Context(), "/v1/jobs", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Created job %s", result["jobId"])
		return nil
	},
}

func init() {
	jobsAddCmd.Flags().String("id", "", "job id (generated when empty)")
	jobsAddCmd.Flags().String("title", "", "job title")
	jobsAddCmd.Flags().String("company", "", "hiring company")
	jobsAddCmd.Flags().StringArray("tag", nil, "job tag as name:category (repeatable)")
	jobsCmd.AddCommand(jobsAddCmd)
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage member profiles",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <member-id>",
	Short: "Show a member profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/profiles/"+args[0])
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <member-id>",
	Short: "Add attributes or set preferences on a member profile",
	Long: `Add attributes or set preferences on a member profile.

Example:
  referlane profile set m1 --skills go,python --companies Acme \
    --domains fintech --pref open_to_new_roles=true`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		skills, _ := cmd.Flags().GetString("skills")
		companies, _ := cmd.Flags().GetString("companies")
		domains, _ := cmd.Flags().GetString("domains")
		prefs, _ := cmd.Flags().GetStringArray("pref")

		patch := map[string]any{}
		if skills != "" {
			patch["addSkills"] = splitCSV(skills)
		}
		if companies != "" {
			patch["addCompanies"] = splitCSV(companies)
		}
		if domains != "" {
			patch["addDomains"] = splitCSV(domains)
		}
		if len(prefs) > 0 {
			set := map[string]string{}
			for _, p := range prefs {
				k, v, ok := strings.Cut(p, "=")
				if !ok {
					return fmt.Errorf("invalid preference %q, want key=value", p)
				}
				set[k] = v
			}
			patch["setPreferences"] = set
		}
		if len(patch) == 0 {
			return fmt.Errorf("nothing to set")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/v1/profiles/"+args[0], patch)
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		printSuccess("Profile %s updated", args[0])
		return nil
	},
}

var profileResumeCmd = &cobra.Command{
	Use:   "resume <member-id> <resume.pdf>",
	Short: "Refresh a member profile from a PDF resume",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading resume: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.postRaw(cmd.Context(), "/v1/profiles/"+args[0]+"/resume", "application/pdf", data)
		if err != nil {
			return err
		}

		var p struct {
			Skills  []string `json:"skills"`
			Domains []string `json:"domains"`
		}
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		printSuccess("Profile %s refreshed: %d skills, %d domains", args[0], len(p.Skills), len(p.Domains))
		return nil
	},
}

func init() {
	profileSetCmd.Flags().String("skills", "", "comma-separated skills to add")
	profileSetCmd.Flags().String("companies", "", "comma-separated past companies to add")
	profileSetCmd.Flags().String("domains", "", "comma-separated domains to add")
	profileSetCmd.Flags().StringArray("pref", nil, "preference as key=value (repeatable)")
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileResumeCmd)
}

// --- nudges ---

var nudgesCmd = &cobra.Command{
	Use:   "nudges <member-id> <job-id>",
	Short: "Generate ranked referral nudges for a member and a job",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/v1/members/%s/jobs/%s/nudges", args[0], args[1])
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Score  float64 `json:"matchScore"`
			Tier   string  `json:"matchTier"`
			Nudges []struct {
				NudgeID     string `json:"nudgeId"`
				RuleID      string `json:"ruleId"`
				Message     string `json:"message"`
				Explanation string `json:"explanation"`
			} `json:"nudges"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Printf("Match: %.2f (%s)\n", result.Score, result.Tier)
		if len(result.Nudges) == 0 {
			fmt.Println("No nudges for this pairing.")
			return nil
		}
		for i, n := range result.Nudges {
			fmt.Printf("\n%s  %s  %s\n", colorize(colorBold, fmt.Sprintf("Nudge %d", i+1)),
				colorize(colorCyan, n.NudgeID), n.RuleID)
			fmt.Printf("  %s\n", n.Message)
			fmt.Printf("  %s\n", colorize(colorYellow, n.Explanation))
		}
		return nil
	},
}

// --- interact ---

var interactCmd = &cobra.Command{
	Use:   "interact <member-id> <job-id> <nudge-id> <action>",
	Short: "Record a nudge interaction (VIEWED, CLICKED, SHARE_WHATSAPP, ...)",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"memberId": args[0],
			"jobId":    args[1],
			"nudgeId":  args[2],
			"action":   strings.ToUpper(args[3]),
		}
		resp, err := client.post(cmd.Context(), "/v1/interactions", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Recorded interaction %s", result["interactionId"])
		return nil
	},
}

// --- event ---

var eventCmd = &cobra.Command{
	Use:   "event <type> <member-id> <job-id>",
	Short: "Record a lifecycle event (job_viewed, referral_submitted, candidate_hired)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"type":     args[0],
			"memberId": args[1],
			"jobId":    args[2],
		}
		resp, err := client.post(cmd.Context(), "/v1/events", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Recorded event %s", result["eventId"])
		return nil
	},
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show interaction stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		memberID, _ := cmd.Flags().GetString("member")
		jobID, _ := cmd.Flags().GetString("job")
		days, _ := cmd.Flags().GetInt("days")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/v1/stats?memberId=%s&jobId=%s&days=%d", memberID, jobID, days)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var stats struct {
			TotalShown     int     `json:"totalShown"`
			Clicked        int     `json:"clicked"`
			Dismissed      int     `json:"dismissed"`
			Referred       int     `json:"referred"`
			ClickRate      float64 `json:"clickRate"`
			ConversionRate float64 `json:"conversionRate"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Shown", "%d", stats.TotalShown)
		printStatus("Clicked", "%d (%.1f%%)", stats.Clicked, stats.ClickRate*100)
		printStatus("Dismissed", "%d", stats.Dismissed)
		printStatus("Referred", "%d (%.1f%%)", stats.Referred, stats.ConversionRate*100)
		return nil
	},
}

// --- funnel ---

var funnelCmd = &cobra.Command{
	Use:   "funnel",
	Short: "Show the referral funnel",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID, _ := cmd.Flags().GetString("job")
		days, _ := cmd.Flags().GetInt("days")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/v1/funnel?jobId=%s&days=%d", jobID, days)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var snap struct {
			Subjects int `json:"subjects"`
			Stages   []struct {
				Stage string `json:"stage"`
				Count int    `json:"count"`
			} `json:"stages"`
			ConversionRate float64 `json:"conversionRate"`
		}
		if err := decodeJSON(resp, &snap); err != nil {
			return err
		}

		for _, stage := range snap.Stages {
			printStatus(stage.Stage, "%d", stage.Count)
		}
		printStatus("Conversion", "%.1f%%", snap.ConversionRate*100)
		return nil
	},
}

// --- budget ---

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show enrichment budget state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/budget")
		if err != nil {
			return err
		}

		var status any
		if err := decodeJSON(resp, &status); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}

// --- summary ---

var summaryCmd = &cobra.Command{
	Use:   "summary <job-id>",
	Short: "Generate (or fetch the cached) LLM summary for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/jobs/"+args[0]+"/summary", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result["summary"])
		return nil
	},
}

func init() {
	statsCmd.Flags().String("member", "", "filter by member id")
	statsCmd.Flags().String("job", "", "filter by job id")
	statsCmd.Flags().Int("days", 0, "trailing window in days (0 = all time)")
	funnelCmd.Flags().String("job", "", "filter by job id")
	funnelCmd.Flags().Int("days", 30, "trailing window in days")
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
