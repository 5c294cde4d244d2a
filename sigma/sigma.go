// Package sigma evaluates Sigma detection rules against capture events.
package sigma

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bradleyjkemp/sigma-go"
	"github.com/bradleyjkemp/sigma-go/evaluator"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Detector manages Sigma rules and detection
type Detector struct {
	RulesDir string
	log      *zap.Logger

	mu         sync.RWMutex
	evaluators map[string]*evaluator.RuleEvaluator

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// MatchResult represents the result of a rule evaluation
type MatchResult struct {
	Rule         sigma.Rule
	MatchDetails []string
}

func fieldConfig() sigma.Config {
	return sigma.Config{
		Title: "clitap config",
		FieldMappings: map[string]sigma.FieldMapping{
			"CommandLine":     {TargetNames: []string{"CommandLine"}},
			"Image":           {TargetNames: []string{"Image"}},
			"User":            {TargetNames: []string{"Username"}},
			"ProcessId":       {TargetNames: []string{"ProcessId"}},
			"DestinationIp":   {TargetNames: []string{"DestinationIp"}},
			"DestinationPort": {TargetNames: []string{"DestinationPort"}},
			"cs-method":       {TargetNames: []string{"HttpMethod"}},
			"cs-uri":          {TargetNames: []string{"HttpUri"}},
		},
	}
}

// NewDetector loads rules from rulesDir and starts watching it for
// changes.
func NewDetector(rulesDir string, log *zap.Logger) (*Detector, error) {
	if err := os.MkdirAll(rulesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create rules directory: %v", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %v", err)
	}

	d := &Detector{
		RulesDir:   rulesDir,
		log:        log,
		evaluators: make(map[string]*evaluator.RuleEvaluator),
		watcher:    watcher,
		done:       make(chan struct{}),
	}

	if err := d.LoadRules(); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to load rules: %v", err)
	}

	if err := watcher.Add(rulesDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %v", rulesDir, err)
	}
	go d.watchFileChanges()

	return d, nil
}

func (sd *Detector) watchFileChanges() {
	for {
		select {
		case event, ok := <-sd.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".yml") && !strings.HasSuffix(event.Name, ".yaml") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				sd.log.Info("rule change detected, reloading",
					zap.String("file", event.Name),
					zap.String("op", event.Op.String()))
				if err := sd.LoadRules(); err != nil {
					sd.log.Warn("rule reload failed", zap.Error(err))
				}
			}

		case err, ok := <-sd.watcher.Errors:
			if !ok {
				return
			}
			sd.log.Warn("file watcher error", zap.Error(err))

		case <-sd.done:
			return
		}
	}
}

// LoadRules replaces the active rule set with the contents of RulesDir.
func (sd *Detector) LoadRules() error {
	entries, err := os.ReadDir(sd.RulesDir)
	if err != nil {
		return err
	}

	evaluators := make(map[string]*evaluator.RuleEvaluator)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		path := filepath.Join(sd.RulesDir, entry.Name())
		rule, eval, err := loadRuleFile(path)
		if err != nil {
			sd.log.Warn("skipping rule file", zap.String("file", path), zap.Error(err))
			continue
		}
		evaluators[rule.ID] = eval
		sd.log.Info("loaded rule", zap.String("title", rule.Title), zap.String("id", rule.ID))
	}

	sd.mu.Lock()
	sd.evaluators = evaluators
	sd.mu.Unlock()

	sd.log.Info("sigma rules loaded", zap.Int("count", len(evaluators)), zap.String("dir", sd.RulesDir))
	return nil
}

func loadRuleFile(path string) (sigma.Rule, *evaluator.RuleEvaluator, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return sigma.Rule{}, nil, err
	}

	if sigma.InferFileType(content) != sigma.RuleFile {
		return sigma.Rule{}, nil, fmt.Errorf("not a Sigma rule: %s", path)
	}

	rule, err := sigma.ParseRule(content)
	if err != nil {
		return sigma.Rule{}, nil, err
	}

	eval := evaluator.ForRule(rule,
		evaluator.WithConfig(fieldConfig()),
		evaluator.WithPlaceholderExpander(func(ctx context.Context, placeholderName string) ([]string, error) {
			return nil, nil
		}),
		evaluator.CountImplementation(func(ctx context.Context, key evaluator.GroupedByValues) (float64, error) {
			return 0, nil
		}),
		evaluator.SumImplementation(func(ctx context.Context, key evaluator.GroupedByValues, value float64) (float64, error) {
			return 0, nil
		}),
		evaluator.AverageImplementation(func(ctx context.Context, key evaluator.GroupedByValues, value float64) (float64, error) {
			return 0, nil
		}))

	return rule, eval, nil
}

// CheckEvent runs every loaded rule against the event and returns the
// matches.
func (sd *Detector) CheckEvent(ctx context.Context, event map[string]interface{}) []MatchResult {
	sd.mu.RLock()
	evaluators := sd.evaluators
	sd.mu.RUnlock()

	var results []MatchResult
	for _, eval := range evaluators {
		result, err := eval.Matches(ctx, event)
		if err != nil {
			sd.log.Warn("rule evaluation failed", zap.String("rule", eval.Rule.ID), zap.Error(err))
			continue
		}
		if !result.Match {
			continue
		}

		var matchConditions []string
		for k, v := range result.SearchResults {
			if v {
				matchConditions = append(matchConditions, k)
			}
		}

		results = append(results, MatchResult{
			Rule: eval.Rule,
			MatchDetails: []string{
				fmt.Sprintf("Matched conditions: %s", strings.Join(matchConditions, ", ")),
			},
		})
	}
	return results
}

// RuleCount reports the number of loaded rules.
func (sd *Detector) RuleCount() int {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	return len(sd.evaluators)
}

func (sd *Detector) Close() error {
	close(sd.done)
	return sd.watcher.Close()
}
