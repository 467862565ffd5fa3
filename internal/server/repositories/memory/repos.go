package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vonjiaina/pharmauth/internal/common"
	"github.com/vonjiaina/pharmauth/internal/server/models"
)

type identityRepo struct {
	s  *Store
	tx *txHandle
}

func (r *identityRepo) Create(_ context.Context, identity *models.Identity) (*models.Identity, error) {
	created := *identity
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	var err error
	r.s.locked(func(st *state) {
		for _, existing := range st.identities {
			if strings.EqualFold(existing.Email, created.Email) || existing.ID == created.ID {
				err = common.ErrorAlreadyExists
				return
			}
		}
		st.identities[created.ID] = created
		r.tx.record(func(st *state) { delete(st.identities, created.ID) })
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *identityRepo) FindByEmail(_ context.Context, email string) (*models.Identity, error) {
	var found *models.Identity
	r.s.locked(func(st *state) {
		for _, i := range st.identities {
			if strings.EqualFold(i.Email, email) {
				v := i
				found = &v
				return
			}
		}
	})
	if found == nil {
		return nil, common.ErrorNotFound
	}
	return found, nil
}

func (r *identityRepo) FindByID(_ context.Context, id string) (*models.Identity, error) {
	var found *models.Identity
	r.s.locked(func(st *state) {
		if i, ok := st.identities[id]; ok {
			found = &i
		}
	})
	if found == nil {
		return nil, common.ErrorNotFound
	}
	return found, nil
}

func (r *identityRepo) UpdateTOTP(_ context.Context, id string, secret *string, enabled bool) error {
	return r.update(id, func(i *models.Identity) {
		i.TOTPSecret = secret
		i.TOTPEnabled = enabled
	})
}

func (r *identityRepo) UpdatePasswordHash(_ context.Context, id string, hash string) error {
	return r.update(id, func(i *models.Identity) { i.PasswordHash = hash })
}

func (r *identityRepo) update(id string, fn func(i *models.Identity)) error {
	err := common.ErrorNotFound
	r.s.locked(func(st *state) {
		i, ok := st.identities[id]
		if !ok {
			return
		}
		prev := i
		fn(&i)
		st.identities[id] = i
		r.tx.record(func(st *state) { st.identities[id] = prev })
		err = nil
	})
	return err
}

func (r *identityRepo) ListSince(_ context.Context, since *time.Time, offset, limit int) ([]*models.Identity, error) {
	var all []*models.Identity
	r.s.locked(func(st *state) {
		for _, i := range st.identities {
			if since != nil && i.CreatedAt.Before(*since) {
				continue
			}
			v := i
			all = append(all, &v)
		}
	})
	sort.Slice(all, func(a, b int) bool {
		if !all[a].CreatedAt.Equal(all[b].CreatedAt) {
			return all[a].CreatedAt.Before(all[b].CreatedAt)
		}
		return all[a].ID < all[b].ID
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit >= 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

type tokenRepo struct {
	s  *Store
	tx *txHandle
}

func (r *tokenRepo) Create(_ context.Context, token *models.RefreshToken) error {
	var err error
	r.s.locked(func(st *state) {
		for _, t := range st.tokens {
			if t.TokenHash == token.TokenHash {
				err = common.ErrorAlreadyExists
				return
			}
		}
		id := token.ID
		st.tokens[id] = *token
		r.tx.record(func(st *state) { delete(st.tokens, id) })
	})
	return err
}

func (r *tokenRepo) FindByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	var found *models.RefreshToken
	r.s.locked(func(st *state) {
		for _, t := range st.tokens {
			if t.TokenHash == hash {
				v := t
				found = &v
				return
			}
		}
	})
	if found == nil {
		return nil, common.ErrorNotFound
	}
	return found, nil
}

func (r *tokenRepo) Revoke(_ context.Context, id string) (bool, error) {
	flipped := false
	r.s.locked(func(st *state) {
		t, ok := st.tokens[id]
		if !ok || t.Revoked {
			return
		}
		t.Revoked = true
		st.tokens[id] = t
		r.tx.record(func(st *state) { unrevoke(st, id) })
		flipped = true
	})
	return flipped, nil
}

func (r *tokenRepo) RevokeAllForDevice(_ context.Context, identityID, deviceID string) (int64, error) {
	var n int64
	r.s.locked(func(st *state) {
		for id, t := range st.tokens {
			if t.Revoked || t.IdentityID != identityID || t.DeviceID == nil || *t.DeviceID != deviceID {
				continue
			}
			t.Revoked = true
			st.tokens[id] = t
			r.tx.record(func(st *state) { unrevoke(st, id) })
			n++
		}
	})
	return n, nil
}

func (r *tokenRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	r.s.locked(func(st *state) {
		for id, t := range st.tokens {
			if !t.ExpiresAt.After(now) {
				delete(st.tokens, id)
				r.tx.record(func(st *state) { st.tokens[id] = t })
				n++
			}
		}
	})
	return n, nil
}

type deviceRepo struct {
	s  *Store
	tx *txHandle
}

func (r *deviceRepo) Create(_ context.Context, d *models.Device) error {
	var err error
	r.s.locked(func(st *state) {
		for _, existing := range st.devices {
			if existing.IdentityID == d.IdentityID && existing.HardwareID == d.HardwareID {
				err = common.ErrorAlreadyExists
				return
			}
		}
		id := d.ID
		st.devices[id] = *d
		r.tx.record(func(st *state) { delete(st.devices, id) })
	})
	return err
}

func (r *deviceRepo) FindByHardwareID(_ context.Context, identityID, hardwareID string) (*models.Device, error) {
	var found *models.Device
	r.s.locked(func(st *state) {
		for _, d := range st.devices {
			if d.IdentityID == identityID && d.HardwareID == hardwareID {
				v := d
				found = &v
				return
			}
		}
	})
	if found == nil {
		return nil, common.ErrorNotFound
	}
	return found, nil
}

func (r *deviceRepo) FindByID(_ context.Context, id string) (*models.Device, error) {
	var found *models.Device
	r.s.locked(func(st *state) {
		if d, ok := st.devices[id]; ok {
			found = &d
		}
	})
	if found == nil {
		return nil, common.ErrorNotFound
	}
	return found, nil
}

func (r *deviceRepo) ListByIdentity(_ context.Context, identityID string) ([]*models.Device, error) {
	var out []*models.Device
	r.s.locked(func(st *state) {
		for _, d := range st.devices {
			if d.IdentityID == identityID {
				v := d
				out = append(out, &v)
			}
		}
	})
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (r *deviceRepo) MarkTrusted(_ context.Context, id string, at time.Time) (bool, error) {
	marked := false
	r.s.locked(func(st *state) {
		d, ok := st.devices[id]
		if !ok || d.VerificationCodeHash == nil || d.CodeConsumed {
			return
		}
		prev := d
		r.tx.record(func(st *state) { st.devices[id] = prev })
		d.Trusted = true
		d.CodeConsumed = true
		d.VerifiedAt = &at
		st.devices[id] = d
		marked = true
	})
	return marked, nil
}

func (r *deviceRepo) TouchLastSeen(_ context.Context, id string, at time.Time) error {
	err := common.ErrorNotFound
	r.s.locked(func(st *state) {
		d, ok := st.devices[id]
		if !ok {
			return
		}
		prev := d
		r.tx.record(func(st *state) { st.devices[id] = prev })
		d.LastSeen = &at
		st.devices[id] = d
		err = nil
	})
	return err
}

func (r *deviceRepo) Delete(_ context.Context, id string) error {
	err := common.ErrorNotFound
	r.s.locked(func(st *state) {
		if d, ok := st.devices[id]; ok {
			delete(st.devices, id)
			r.tx.record(func(st *state) { st.devices[id] = d })
			err = nil
		}
	})
	return err
}

type backupCodeRepo struct {
	s  *Store
	tx *txHandle
}

func (r *backupCodeRepo) Insert(_ context.Context, codes []*models.BackupCode) error {
	r.s.locked(func(st *state) {
		for _, c := range codes {
			id := c.ID
			prev, existed := st.codes[id]
			st.codes[id] = *c
			r.tx.record(func(st *state) {
				if existed {
					st.codes[id] = prev
				} else {
					delete(st.codes, id)
				}
			})
		}
	})
	return nil
}

func (r *backupCodeRepo) ListUnused(_ context.Context, identityID string) ([]*models.BackupCode, error) {
	var out []*models.BackupCode
	r.s.locked(func(st *state) {
		for _, c := range st.codes {
			if c.IdentityID == identityID && !c.Used {
				v := c
				out = append(out, &v)
			}
		}
	})
	return out, nil
}

func (r *backupCodeRepo) MarkUsed(_ context.Context, id string) (bool, error) {
	marked := false
	r.s.locked(func(st *state) {
		c, ok := st.codes[id]
		if !ok || c.Used {
			return
		}
		prev := c
		c.Used = true
		st.codes[id] = c
		r.tx.record(func(st *state) { st.codes[id] = prev })
		marked = true
	})
	return marked, nil
}

func (r *backupCodeRepo) DeleteForIdentity(_ context.Context, identityID string) error {
	r.s.locked(func(st *state) {
		for id, c := range st.codes {
			if c.IdentityID == identityID {
				delete(st.codes, id)
				r.tx.record(func(st *state) { st.codes[id] = c })
			}
		}
	})
	return nil
}

type auditRepo struct {
	s  *Store
	tx *txHandle
}

func (r *auditRepo) Insert(_ context.Context, e *models.AuditEntry) (int64, error) {
	var id int64
	r.s.locked(func(st *state) {
		st.auditSeq++
		id = st.auditSeq
		v := *e
		v.ID = id
		st.audit = append(st.audit, v)
		r.tx.record(func(st *state) { dropAudit(st, id) })
	})
	return id, nil
}

func (r *auditRepo) Recent(_ context.Context, limit int) ([]*models.AuditEntry, error) {
	return r.list(limit, func(*models.AuditEntry) bool { return true }), nil
}

func (r *auditRepo) ForIdentity(_ context.Context, identityID string, limit int) ([]*models.AuditEntry, error) {
	return r.list(limit, func(e *models.AuditEntry) bool {
		return e.IdentityID != nil && *e.IdentityID == identityID
	}), nil
}

func (r *auditRepo) list(limit int, keep func(*models.AuditEntry) bool) []*models.AuditEntry {
	var out []*models.AuditEntry
	r.s.locked(func(st *state) {
		for _, e := range st.audit {
			v := e
			if keep(&v) {
				out = append(out, &v)
			}
		}
	})
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID > out[b].ID
	})
	if limit >= 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

func unrevoke(st *state, id string) {
	if t, ok := st.tokens[id]; ok {
		t.Revoked = false
		st.tokens[id] = t
	}
}

// dropAudit removes one entry by id. The sequence is not rewound so ids of
// entries committed concurrently stay unique.
func dropAudit(st *state, id int64) {
	for i, e := range st.audit {
		if e.ID == id {
			st.audit = append(st.audit[:i:i], st.audit[i+1:]...)
			return
		}
	}
}
