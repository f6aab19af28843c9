package database

// PolicySQL is the full row-level-security policy set. It is applied on
// every boot: the group and group_members policies are dropped and
// recreated so edits here take effect without a new migration name.
//
// The group policies are layered to avoid recursive evaluation:
// group_members SELECT is self-only and joins nothing, so the groups
// SELECT policy (and every membership EXISTS elsewhere) composes on a
// base case that cannot re-enter groups. Elevated operations check the
// caller against an aliased gm subquery rather than the row being
// evaluated.
const PolicySQL = `
ALTER TABLE public.profiles ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.posts ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.follows ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.messages ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.groups ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.group_members ENABLE ROW LEVEL SECURITY;

-- profiles ------------------------------------------------------------

DROP POLICY IF EXISTS "Profiles are viewable by everyone" ON public.profiles;
CREATE POLICY "Profiles are viewable by everyone"
  ON public.profiles FOR SELECT
  USING (true);

DROP POLICY IF EXISTS "Users can insert their own profile" ON public.profiles;
CREATE POLICY "Users can insert their own profile"
  ON public.profiles FOR INSERT
  WITH CHECK (auth.uid() = id);

DROP POLICY IF EXISTS "Users can update their own profile" ON public.profiles;
CREATE POLICY "Users can update their own profile"
  ON public.profiles FOR UPDATE
  USING (auth.uid() = id);

-- posts ---------------------------------------------------------------

DROP POLICY IF EXISTS "Posts are viewable by everyone" ON public.posts;
CREATE POLICY "Posts are viewable by everyone"
  ON public.posts FOR SELECT
  USING (true);

DROP POLICY IF EXISTS "Users can create their own posts" ON public.posts;
CREATE POLICY "Users can create their own posts"
  ON public.posts FOR INSERT
  WITH CHECK (auth.uid() = user_id);

DROP POLICY IF EXISTS "Users can update their own posts" ON public.posts;
CREATE POLICY "Users can update their own posts"
  ON public.posts FOR UPDATE
  USING (auth.uid() = user_id);

DROP POLICY IF EXISTS "Users can delete their own posts" ON public.posts;
CREATE POLICY "Users can delete their own posts"
  ON public.posts FOR DELETE
  USING (auth.uid() = user_id);

-- follows -------------------------------------------------------------

DROP POLICY IF EXISTS "Follows are viewable by everyone" ON public.follows;
CREATE POLICY "Follows are viewable by everyone"
  ON public.follows FOR SELECT
  USING (true);

DROP POLICY IF EXISTS "Users can follow others" ON public.follows;
CREATE POLICY "Users can follow others"
  ON public.follows FOR INSERT
  WITH CHECK (auth.uid() = follower_id);

DROP POLICY IF EXISTS "Users can unfollow" ON public.follows;
CREATE POLICY "Users can unfollow"
  ON public.follows FOR DELETE
  USING (auth.uid() = follower_id);

-- messages ------------------------------------------------------------
-- Direct and group addressing are disjoint branches: a row is visible or
-- writable through exactly one of them.

DROP POLICY IF EXISTS "Users can view their direct messages" ON public.messages;
CREATE POLICY "Users can view their direct messages"
  ON public.messages FOR SELECT
  USING (
    group_id IS NULL
    AND (auth.uid() = sender_id OR auth.uid() = recipient_id)
  );

DROP POLICY IF EXISTS "Members can view group messages" ON public.messages;
CREATE POLICY "Members can view group messages"
  ON public.messages FOR SELECT
  USING (
    group_id IS NOT NULL
    AND EXISTS (
      SELECT 1 FROM public.group_members
      WHERE group_members.group_id = messages.group_id
        AND group_members.user_id = auth.uid()
    )
  );

DROP POLICY IF EXISTS "Users can send direct messages" ON public.messages;
CREATE POLICY "Users can send direct messages"
  ON public.messages FOR INSERT
  WITH CHECK (
    auth.uid() = sender_id
    AND group_id IS NULL
    AND recipient_id IS NOT NULL
  );

DROP POLICY IF EXISTS "Members can send group messages" ON public.messages;
CREATE POLICY "Members can send group messages"
  ON public.messages FOR INSERT
  WITH CHECK (
    auth.uid() = sender_id
    AND group_id IS NOT NULL
    AND EXISTS (
      SELECT 1 FROM public.group_members
      WHERE group_members.group_id = messages.group_id
        AND group_members.user_id = auth.uid()
    )
  );

DROP POLICY IF EXISTS "Recipients can mark messages read" ON public.messages;
CREATE POLICY "Recipients can mark messages read"
  ON public.messages FOR UPDATE
  USING (group_id IS NULL AND auth.uid() = recipient_id)
  WITH CHECK (group_id IS NULL AND auth.uid() = recipient_id);

-- The WITH CHECK keeps the row addressed to the caller; the grant below
-- scopes the update to the read column so the recipient cannot rewrite
-- content or sender fields.
REVOKE UPDATE ON public.messages FROM authenticated;
GRANT UPDATE (read) ON public.messages TO authenticated;

DROP POLICY IF EXISTS "Senders can delete their messages" ON public.messages;
CREATE POLICY "Senders can delete their messages"
  ON public.messages FOR DELETE
  USING (auth.uid() = sender_id);

-- group_members -------------------------------------------------------
-- SELECT is self-only with no joins. This is the base case that breaks
-- the groups <-> group_members evaluation cycle; everything that needs
-- a membership check composes on top of it.

DROP POLICY IF EXISTS "Users can view their own memberships" ON public.group_members;
CREATE POLICY "Users can view their own memberships"
  ON public.group_members FOR SELECT
  USING (user_id = auth.uid());

DROP POLICY IF EXISTS "Creators and admins can add members" ON public.group_members;
CREATE POLICY "Creators and admins can add members"
  ON public.group_members FOR INSERT
  WITH CHECK (
    EXISTS (
      SELECT 1 FROM public.groups
      WHERE groups.id = group_members.group_id
        AND groups.creator_id = auth.uid()
    )
    OR EXISTS (
      SELECT 1 FROM public.group_members gm
      WHERE gm.group_id = group_members.group_id
        AND gm.user_id = auth.uid()
        AND gm.is_admin
    )
  );

DROP POLICY IF EXISTS "Creators and admins can update member roles" ON public.group_members;
CREATE POLICY "Creators and admins can update member roles"
  ON public.group_members FOR UPDATE
  USING (
    auth.uid() <> user_id
    AND (
      EXISTS (
        SELECT 1 FROM public.groups
        WHERE groups.id = group_members.group_id
          AND groups.creator_id = auth.uid()
      )
      OR EXISTS (
        SELECT 1 FROM public.group_members gm
        WHERE gm.group_id = group_members.group_id
          AND gm.user_id = auth.uid()
          AND gm.is_admin
      )
    )
  );

DROP POLICY IF EXISTS "Members can leave, creators and admins can remove" ON public.group_members;
CREATE POLICY "Members can leave, creators and admins can remove"
  ON public.group_members FOR DELETE
  USING (
    user_id = auth.uid()
    OR EXISTS (
      SELECT 1 FROM public.groups
      WHERE groups.id = group_members.group_id
        AND groups.creator_id = auth.uid()
    )
    OR EXISTS (
      SELECT 1 FROM public.group_members gm
      WHERE gm.group_id = group_members.group_id
        AND gm.user_id = auth.uid()
        AND gm.is_admin
    )
  );

-- groups --------------------------------------------------------------

DROP POLICY IF EXISTS "Members and creators can view groups" ON public.groups;
CREATE POLICY "Members and creators can view groups"
  ON public.groups FOR SELECT
  USING (
    creator_id = auth.uid()
    OR EXISTS (
      SELECT 1 FROM public.group_members
      WHERE group_members.group_id = groups.id
        AND group_members.user_id = auth.uid()
    )
  );

DROP POLICY IF EXISTS "Users can create groups" ON public.groups;
CREATE POLICY "Users can create groups"
  ON public.groups FOR INSERT
  WITH CHECK (auth.uid() = creator_id);

DROP POLICY IF EXISTS "Creators and admins can update groups" ON public.groups;
CREATE POLICY "Creators and admins can update groups"
  ON public.groups FOR UPDATE
  USING (
    creator_id = auth.uid()
    OR EXISTS (
      SELECT 1 FROM public.group_members gm
      WHERE gm.group_id = groups.id
        AND gm.user_id = auth.uid()
        AND gm.is_admin
    )
  );

DROP POLICY IF EXISTS "Creators and admins can delete groups" ON public.groups;
CREATE POLICY "Creators and admins can delete groups"
  ON public.groups FOR DELETE
  USING (
    creator_id = auth.uid()
    OR EXISTS (
      SELECT 1 FROM public.group_members gm
      WHERE gm.group_id = groups.id
        AND gm.user_id = auth.uid()
        AND gm.is_admin
    )
  );
`
