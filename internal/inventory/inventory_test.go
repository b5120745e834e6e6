package inventory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyInventoryDocument(t *testing.T) {
	out, err := New().MarshalIndent()
	require.NoError(t, err)
	assert.Equal(t, `{
    "_meta": {
        "hostvars": {}
    },
    "all": {
        "hosts": []
    }
}`, string(out))
}

func TestInventoryDocumentIsSortedAndIndented(t *testing.T) {
	inv := New()
	inv.AddHost(AllGroup, "b")
	inv.AddHost(AllGroup, "a")
	inv.AddHost(AllGroup, "a")
	inv.AddHost("web", "b")
	inv.Hostvars["a"] = Hostvars{"z": json.RawMessage(`1`), SSHHostVar: "a"}
	inv.Hostvars["b"] = Hostvars{SSHHostVar: "b"}
	inv.Normalize()

	out, err := inv.MarshalIndent()
	require.NoError(t, err)
	assert.Equal(t, `{
    "_meta": {
        "hostvars": {
            "a": {
                "ansible_ssh_host": "a",
                "z": 1
            },
            "b": {
                "ansible_ssh_host": "b"
            }
        }
    },
    "all": {
        "hosts": [
            "a",
            "b"
        ]
    },
    "web": {
        "hosts": [
            "b"
        ]
    }
}`, string(out))
	assert.Equal(t, []string{AllGroup, "web"}, inv.GroupNames())
	assert.Equal(t, 2, inv.HostCount())
}

func TestHostDocument(t *testing.T) {
	out, err := HostDocument("web01", Hostvars{"fqdn": json.RawMessage(`"web01.example.com"`)})
	require.NoError(t, err)
	assert.Equal(t, `{
    "web01": {
        "fqdn": "web01.example.com"
    }
}`, string(out))

	out, err = HostDocument("empty", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"empty":{}}`, string(out))
}

func TestReindent(t *testing.T) {
	out, err := Reindent([]byte(`{"b":{"big":12345678901234567890},"a":[1,2]}`))
	require.NoError(t, err)
	assert.Equal(t, `{
    "a": [
        1,
        2
    ],
    "b": {
        "big": 12345678901234567890
    }
}`, string(out))

	for _, bad := range []string{``, `{"a":`, `[1,2]`, `{} {}`} {
		_, err := Reindent([]byte(bad))
		assert.Error(t, err, "input %q", bad)
	}
}
