package locator

import "testing"

func TestCacheKeyNamingRules(t *testing.T) {
	testCases := []struct {
		name    string
		locator Locator
		want    string
	}{
		{"file with extension", File("g", "file.txt", 3), "file-v3.txt"},
		{"file without extension", File("g", "file", 3), "file-v3"},
		{"directory", Dir("g", "mydir", 2), "mydir-d2"},
		{"last extension only", File("g", "model.tar.gz", 7), "model.tar-v7.gz"},
		{"version zero", File("g", "a.b", 0), "a-v0.b"},
		{"leading dot", File("g", ".hidden", 1), "-v1.hidden"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.locator.CacheKey(); got != tc.want {
				t.Fatalf("CacheKey() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRemoteKeyCarriesArchiveSuffixForDirectories(t *testing.T) {
	dir := Dir("org.allenai.datastore", "TestDirectory", 1)
	if got := dir.RemoteKey(); got != "org.allenai.datastore/TestDirectory-d1.zip" {
		t.Fatalf("unexpected remote key: %s", got)
	}
	if got := dir.CachePath(); got != "org.allenai.datastore/TestDirectory-d1" {
		t.Fatalf("目录的缓存路径不应包含 .zip: %s", got)
	}

	file := File("org.allenai.datastore", "DatastoreCli.jar", 1)
	if got := file.RemoteKey(); got != "org.allenai.datastore/DatastoreCli-v1.jar" {
		t.Fatalf("unexpected remote key: %s", got)
	}
	if file.RemoteKey() != file.CachePath() {
		t.Fatalf("文件的远端 key 与缓存路径应一致")
	}
}

func TestFlatCacheKeyHasNoSeparators(t *testing.T) {
	loc := File("org/allenai", "nested/name.json", 4)
	if got := loc.FlatCacheKey(); got != "org%allenai%nested%name-v4.json" {
		t.Fatalf("unexpected flat key: %s", got)
	}
}

func TestGroupIsNotNormalized(t *testing.T) {
	loc := File("../escape", "x", 1)
	if loc.CachePath() != "../escape/x-v1" {
		t.Fatalf("group 应原样保留, got %s", loc.CachePath())
	}
}
