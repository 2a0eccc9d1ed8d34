package inventory

func metaKey(contactID string) string {
	return "inv:v1:meta:" + contactID
}

func idxKey(contactID, tier string) string {
	return "inv:v1:idx:" + contactID + ":" + tier
}

func entryKey(contactID, keyID string) string {
	return "inv:v1:key:" + contactID + ":" + keyID
}
