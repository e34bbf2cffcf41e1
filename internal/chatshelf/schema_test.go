package chatshelf

import "testing"

func TestValidProjectsPayload(t *testing.T) {
	valid := []string{
		`[]`,
		`[{"id":"p_1","name":"Research"}]`,
		`[{"id":"p_1","name":"Research","order":2,"createdAt":1700000000000,"contextId":"gem_42","contextName":"Helper","isExpanded":true}]`,
	}
	for _, payload := range valid {
		if !ValidProjectsPayload([]byte(payload)) {
			t.Errorf("rejected valid payload %s", payload)
		}
	}

	invalid := []string{
		``,
		`{}`,
		`[{"name":"missing id"}]`,
		`[{"id":"","name":"empty id"}]`,
		`[{"id":"p_1","name":"Research","order":"first"}]`,
		`not json`,
	}
	for _, payload := range invalid {
		if ValidProjectsPayload([]byte(payload)) {
			t.Errorf("accepted invalid payload %s", payload)
		}
	}
}

func TestValidAssociationsPayload(t *testing.T) {
	valid := []string{
		`{}`,
		`{"c_abcdefgh1234":{"projectId":"p_1","title":"Plan","addedAt":1}}`,
	}
	for _, payload := range valid {
		if !ValidAssociationsPayload([]byte(payload)) {
			t.Errorf("rejected valid payload %s", payload)
		}
	}

	invalid := []string{
		``,
		`[]`,
		`{"c_abcdefgh1234":{"title":"no project"}}`,
		`{"c_abcdefgh1234":{"projectId":""}}`,
		`{"c_abcdefgh1234":{"projectId":"p_1","addedAt":"yesterday"}}`,
	}
	for _, payload := range invalid {
		if ValidAssociationsPayload([]byte(payload)) {
			t.Errorf("accepted invalid payload %s", payload)
		}
	}
}
