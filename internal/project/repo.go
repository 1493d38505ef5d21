package project

import (
	"strings"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

// IsCI reports whether the process runs under a CI system.
func IsCI(getenv func(string) string) bool {
	switch strings.ToLower(getenv("CI")) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// FillFromEnv completes the empty fields of repo from well-known CI
// variables. Fields already set are kept.
func FillFromEnv(repo ze.RepoMeta, getenv func(string) string) ze.RepoMeta {
	first := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				return v
			}
		}
		return ""
	}

	if repo.Branch == "" {
		repo.Branch = first("ZE_BRANCH", "GITHUB_HEAD_REF", "GITHUB_REF_NAME", "CI_COMMIT_REF_NAME", "BRANCH_NAME")
	}
	if repo.Commit == "" {
		repo.Commit = first("ZE_COMMIT", "GITHUB_SHA", "CI_COMMIT_SHA", "COMMIT_SHA")
	}
	if repo.Org == "" || repo.Project == "" {
		// GITHUB_REPOSITORY is "owner/repo".
		if owner, name, ok := strings.Cut(getenv("GITHUB_REPOSITORY"), "/"); ok {
			if repo.Org == "" {
				repo.Org = owner
			}
			if repo.Project == "" {
				repo.Project = name
			}
		}
	}
	if repo.Org == "" {
		repo.Org = first("CI_PROJECT_NAMESPACE")
	}
	if repo.Project == "" {
		repo.Project = first("CI_PROJECT_NAME")
	}
	if repo.AuthorName == "" {
		repo.AuthorName = first("GITHUB_ACTOR", "GITLAB_USER_NAME")
	}
	if repo.AuthorEmail == "" {
		repo.AuthorEmail = first("GITLAB_USER_EMAIL")
	}
	return repo
}
