package crypto

import "strings"

// EncryptFields walks the dotted paths in obj and replaces each
// resolvable leaf with its encrypted form; paths that do not resolve
// are skipped, per spec §4.5.
func (s *Service) EncryptFields(obj map[string]any, paths []string, passphrase string) error {
	for _, path := range paths {
		segs := strings.Split(path, ".")
		parent, leaf, ok := navigate(obj, segs)
		if !ok {
			continue
		}
		str, ok := stringify(parent[leaf])
		if !ok {
			continue
		}
		enc, err := s.Encrypt([]byte(str), passphrase, nil)
		if err != nil {
			return err
		}
		parent[leaf] = enc
	}
	return nil
}

// DecryptFields inverts EncryptFields; unresolvable or non-encrypted
// paths are skipped.
func (s *Service) DecryptFields(obj map[string]any, paths []string, passphrase string) error {
	for _, path := range paths {
		segs := strings.Split(path, ".")
		parent, leaf, ok := navigate(obj, segs)
		if !ok {
			continue
		}
		if !IsEncrypted(parent[leaf]) {
			continue
		}
		enc := toEncryptedData(parent[leaf])
		if enc == nil {
			continue
		}
		plaintext, err := s.Decrypt(enc, passphrase, nil)
		if err != nil {
			return err
		}
		parent[leaf] = string(plaintext)
	}
	return nil
}

// navigate walks segs (all but the last) through nested
// map[string]any objects and returns the map holding the final
// segment plus that segment's key, so callers can both read and
// write the leaf.
func navigate(obj map[string]any, segs []string) (parent map[string]any, leaf string, ok bool) {
	if len(segs) == 0 {
		return nil, "", false
	}
	cur := obj
	for _, seg := range segs[:len(segs)-1] {
		next, exists := cur[seg]
		if !exists {
			return nil, "", false
		}
		nextMap, ok := next.(map[string]any)
		if !ok {
			return nil, "", false
		}
		cur = nextMap
	}
	leaf = segs[len(segs)-1]
	if _, exists := cur[leaf]; !exists {
		return nil, "", false
	}
	return cur, leaf, true
}

func stringify(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func toEncryptedData(v any) *EncryptedData {
	switch t := v.(type) {
	case *EncryptedData:
		return t
	case EncryptedData:
		return &t
	case map[string]any:
		data, _ := t["data"].(string)
		iv, _ := t["iv"].(string)
		tag, _ := t["authTag"].(string)
		algo, _ := t["algorithm"].(string)
		return &EncryptedData{Data: data, IV: iv, AuthTag: tag, Algorithm: Algorithm(algo)}
	default:
		return nil
	}
}
